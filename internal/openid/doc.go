// Package openid implements the Steam side of the sign-in flow: building the OpenID 2.0
// redirect to steamcommunity.com, verifying the positive assertion the browser brings
// back (direct verification via check_authentication), and looking up the player
// profile through the Steam Web API.
//
// Steam only supports stateless ("dumb mode") verification, so no association is ever
// established; every assertion costs one round-trip to the provider.
package openid
