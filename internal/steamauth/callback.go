package steamauth

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/dropDatabas3/steamgate/internal/http/errors"
	"github.com/dropDatabas3/steamgate/internal/http/facade"
	"github.com/dropDatabas3/steamgate/internal/metrics"
	"github.com/dropDatabas3/steamgate/internal/observability/logger"
	"github.com/dropDatabas3/steamgate/internal/steamid"
)

func (f *Flow) login(w http.ResponseWriter, r *http.Request) {
	logger.From(r.Context()).Debug("redirecting to steam",
		logger.Component("steamauth"), logger.Op("login"))
	http.Redirect(w, r, f.verifier.AuthURL(), http.StatusFound)
}

// callback procesa la vuelta desde Steam. El orden de los pasos es fijo y cada
// falla corta la secuencia.
func (f *Flow) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Component("steamauth"), logger.Op("callback"))

	raw, err := f.verifier.Verify(ctx, r)
	if err != nil {
		f.fail(w, r, log, metrics.OutcomeVerifyFailed, err)
		return
	}
	if raw == "" {
		f.fail(w, r, log, metrics.OutcomeCancelled, nil)
		return
	}
	id, err := steamid.Parse(raw)
	if err != nil {
		f.malformed(w, log, err)
		return
	}
	log = log.With(logger.SteamID(id.String()))

	summary, err := f.profiles.Summary(ctx, id.String())
	if err != nil {
		f.fail(w, r, log, metrics.OutcomeProfileFailed, err)
		return
	}
	user, err := steamid.FromSummary(summary.SteamID, summary.PersonaName, summary.AvatarFull)
	if err != nil {
		f.malformed(w, log, err)
		return
	}
	if user.ID != id.String() {
		f.fail(w, r, log, metrics.OutcomeProfileFailed, ErrIdentityMismatch)
		return
	}

	if f.cfg.ValidateIncomingUser != nil {
		if err := f.cfg.ValidateIncomingUser(ctx, user); err != nil {
			f.fail(w, r, log, metrics.OutcomeRejected, err)
			return
		}
	}
	if f.cfg.UpdateIncomingUser != nil {
		if err := f.cfg.UpdateIncomingUser(ctx, user); err != nil {
			f.fail(w, r, log, metrics.OutcomeUpdateFailed, err)
			return
		}
	}

	// el sujeto de la sesión es el SteamID64 tal cual, sin traducción
	if err := f.manager.Login(w, r, user.ID); err != nil {
		f.fail(w, r, log, metrics.OutcomeSessionFailed, err)
		return
	}

	f.metrics.LoginOutcome(metrics.OutcomeSuccess)
	log.Info("steam login succeeded", logger.Outcome(metrics.OutcomeSuccess), logger.String("id2", user.ID2))
	facade.Invoke(f.cfg.OnSuccess, w, r, nil)
}

func (f *Flow) fail(w http.ResponseWriter, r *http.Request, log *zap.Logger, outcome string, err error) {
	f.metrics.LoginOutcome(outcome)
	if err != nil {
		log.Warn("steam login failed", logger.Outcome(outcome), logger.Err(err))
	} else {
		log.Info("steam login returned no identity", logger.Outcome(outcome))
	}
	facade.Invoke(f.cfg.OnFail, w, r, err)
}

func (f *Flow) malformed(w http.ResponseWriter, log *zap.Logger, err error) {
	f.metrics.LoginOutcome(metrics.OutcomeMalformed)
	log.Error("malformed steam id", logger.Outcome(metrics.OutcomeMalformed), logger.Err(err))
	if !errors.Is(err, steamid.ErrMalformed) {
		err = errors.Join(steamid.ErrMalformed, err)
	}
	apperrors.WriteError(w, apperrors.ErrMalformedSteamID.WithCause(err))
}
