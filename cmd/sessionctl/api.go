package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/account"
)

const httpSource = "http"

// api exposes a manager over JSON. Mutating calls enqueue unless ?wait=1 is
// given, in which case the handler blocks until the queue runs the operation.
type api struct {
	m      *goSession.Manager
	logger *slog.Logger
	now    func() time.Time
}

type resultView struct {
	Success       bool      `json:"success"`
	Class         string    `json:"class"`
	Error         string    `json:"error,omitempty"`
	Queued        bool      `json:"queued,omitempty"`
	CorrelationID uint64    `json:"correlation_id,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
	Fresh         bool      `json:"fresh,omitempty"`
	Purged        bool      `json:"purged,omitempty"`
	MFA           bool      `json:"mfa,omitempty"`
	Method        string    `json:"method,omitempty"`
	Email         string    `json:"email,omitempty"`
	RetryAt       time.Time `json:"retry_at,omitzero"`
	Index         int       `json:"index,omitempty"`
	PUUID         string    `json:"puuid,omitempty"`
	Username      string    `json:"username,omitempty"`
	Region        string    `json:"region,omitempty"`
	AccessToken   string    `json:"access_token,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitzero"`
}

type accountView struct {
	Index     int       `json:"index"`
	Current   bool      `json:"current"`
	PUUID     string    `json:"puuid,omitempty"`
	Username  string    `json:"username,omitempty"`
	Region    string    `json:"region,omitempty"`
	State     string    `json:"state"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	Failures  int       `json:"failed_fetches,omitempty"`
}

type queueView struct {
	State  string      `json:"state"`
	Ahead  int         `json:"ahead,omitempty"`
	Result *resultView `json:"result,omitempty"`
}

func (a *api) routes(metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "queue_len": a.m.QueueLen()})
	})
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	mux.HandleFunc("GET /v1/owners/{owner}", a.accounts)
	mux.HandleFunc("DELETE /v1/owners/{owner}", a.deleteOwner)
	mux.HandleFunc("POST /v1/owners/{owner}/login", a.login)
	mux.HandleFunc("POST /v1/owners/{owner}/mfa", a.mfa)
	mux.HandleFunc("PUT /v1/owners/{owner}/current/{index}", a.switchAccount)
	mux.HandleFunc("GET /v1/owners/{owner}/accounts/{index}/auth", a.auth)
	mux.HandleFunc("POST /v1/owners/{owner}/accounts/{index}/refresh", a.refresh)
	mux.HandleFunc("POST /v1/owners/{owner}/accounts/{index}/invalidate", a.invalidate)
	mux.HandleFunc("DELETE /v1/owners/{owner}/accounts/{index}", a.deleteAccount)
	mux.HandleFunc("DELETE /v1/owners/{owner}/accounts/{index}/credentials", a.deleteCredentials)
	mux.HandleFunc("GET /v1/queue/{id}", a.poll)
	mux.HandleFunc("GET /v1/queue/{id}/wait", a.wait)
	return mux
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	ctx := goSession.WithSource(r.Context(), httpSource)
	owner := r.PathValue("owner")

	var (
		res *goSession.Result
		err error
	)
	if wantsWait(r) {
		res, err = a.m.Login(ctx, owner, body.Login, body.Password)
	} else {
		res, err = a.m.EnqueueLogin(ctx, owner, body.Login, body.Password)
	}
	a.writeResult(w, res, err)
}

func (a *api) mfa(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	ctx := goSession.WithSource(r.Context(), httpSource)
	owner := r.PathValue("owner")

	var (
		res *goSession.Result
		err error
	)
	if wantsWait(r) {
		res, err = a.m.SubmitMFA(ctx, owner, body.Code)
	} else {
		res, err = a.m.EnqueueMFA(ctx, owner, body.Code)
	}
	a.writeResult(w, res, err)
}

func (a *api) auth(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}
	res, err := a.m.AuthUser(goSession.WithSource(r.Context(), httpSource), r.PathValue("owner"), index)
	a.writeResult(w, res, err)
}

func (a *api) refresh(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}
	ctx := goSession.WithSource(r.Context(), httpSource)
	owner := r.PathValue("owner")

	var (
		res *goSession.Result
		err error
	)
	if wantsWait(r) {
		res, err = a.m.RefreshToken(ctx, owner, index)
	} else {
		res, err = a.m.EnqueueRefresh(ctx, owner, index)
	}
	a.writeResult(w, res, err)
}

func (a *api) invalidate(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}
	err := a.m.InvalidateSession(goSession.WithSource(r.Context(), httpSource), r.PathValue("owner"), index)
	a.writeEmpty(w, err)
}

func (a *api) accounts(w http.ResponseWriter, r *http.Request) {
	owner, err := a.m.Accounts(r.Context(), r.PathValue("owner"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	out := make([]accountView, 0, len(owner.Accounts))
	for i := range owner.Accounts {
		out = append(out, viewAccount(&owner.Accounts[i], i+1, owner.Current == i+1))
	}
	writeJSON(w, http.StatusOK, map[string]any{"current": owner.Current, "accounts": out})
}

func (a *api) switchAccount(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}
	rec, err := a.m.SwitchAccount(goSession.WithSource(r.Context(), httpSource), r.PathValue("owner"), index)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewAccount(rec, index, true))
}

func (a *api) deleteOwner(w http.ResponseWriter, r *http.Request) {
	err := a.m.DeleteUser(goSession.WithSource(r.Context(), httpSource), r.PathValue("owner"), 0)
	a.writeEmpty(w, err)
}

func (a *api) deleteAccount(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}
	if index == 0 {
		http.Error(w, "account index must be positive", http.StatusBadRequest)
		return
	}
	err := a.m.DeleteUser(goSession.WithSource(r.Context(), httpSource), r.PathValue("owner"), index)
	a.writeEmpty(w, err)
}

func (a *api) deleteCredentials(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}
	err := a.m.DeleteCredentials(goSession.WithSource(r.Context(), httpSource), r.PathValue("owner"), index)
	a.writeEmpty(w, err)
}

func (a *api) poll(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	st, err := a.m.PollAuth(id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	view := queueView{State: st.State.String(), Ahead: st.Ahead}
	if st.State == goSession.QueueStateDone {
		rv := viewResult(st.Result, st.Err)
		view.Result = &rv
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *api) wait(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := a.m.WaitAuth(r.Context(), id)
	a.writeResult(w, res, err)
}

func (a *api) writeResult(w http.ResponseWriter, res *goSession.Result, err error) {
	if res == nil {
		res = &goSession.Result{Class: goSession.Classify(err)}
	}
	status := statusFor(res, err)
	if res.Class == goSession.ClassRateLimited && !res.RetryAt.IsZero() {
		secs := math.Ceil(res.RetryAt.Sub(a.now()).Seconds())
		if secs < 0 {
			secs = 0
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(secs)))
	}
	if status >= http.StatusInternalServerError {
		a.logger.Warn("request failed", slog.String("class", res.Class.String()), slog.Any("error", err))
	}
	writeJSON(w, status, viewResult(res, err))
}

func (a *api) writeEmpty(w http.ResponseWriter, err error) {
	if err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) writeError(w http.ResponseWriter, err error) {
	res := &goSession.Result{Class: goSession.Classify(err)}
	writeJSON(w, statusFor(res, err), viewResult(res, err))
}

func statusFor(res *goSession.Result, err error) int {
	if err == nil {
		if res.Queued {
			return http.StatusAccepted
		}
		return http.StatusOK
	}
	if errors.Is(err, goSession.ErrEngineNotReady) {
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, goSession.ErrTooManyAccounts) {
		return http.StatusConflict
	}
	switch res.Class {
	case goSession.ClassAuthFailure, goSession.ClassNoCredentials, goSession.ClassInvalidCookies,
		goSession.ClassMFARequired, goSession.ClassMFAAttemptFailed:
		return http.StatusUnauthorized
	case goSession.ClassRateLimited:
		return http.StatusTooManyRequests
	case goSession.ClassProviderBlocked, goSession.ClassStorage:
		return http.StatusServiceUnavailable
	case goSession.ClassTransport, goSession.ClassMalformedResponse, goSession.ClassProviderError:
		return http.StatusBadGateway
	case goSession.ClassNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func viewResult(res *goSession.Result, err error) resultView {
	v := resultView{
		Success:       res.Success,
		Class:         res.Class.String(),
		Queued:        res.Queued,
		CorrelationID: res.CorrelationID,
		RequestID:     res.RequestID,
		Fresh:         res.Fresh,
		Purged:        res.Purged,
		MFA:           res.MFA,
		Method:        res.Method,
		Email:         res.Email,
		RetryAt:       res.RetryAt,
		Index:         res.Index,
		AccessToken:   res.AccessToken(),
	}
	if err != nil {
		v.Error = err.Error()
	}
	if rec := res.Account; rec != nil {
		v.PUUID = rec.PUUID
		v.Username = rec.Username
		v.Region = rec.Region
		if s, ok := rec.Session(); ok {
			v.ExpiresAt = s.ExpiresAt
		}
	}
	return v
}

func viewAccount(rec *account.Record, index int, current bool) accountView {
	v := accountView{
		Index:    index,
		Current:  current,
		PUUID:    rec.PUUID,
		Username: rec.Username,
		Region:   rec.Region,
		State:    stateName(rec.State()),
		Failures: rec.FailedFetches,
	}
	if s, ok := rec.Session(); ok {
		v.ExpiresAt = s.ExpiresAt
	}
	return v
}

func stateName(s account.AuthState) string {
	switch s.(type) {
	case account.Authenticated:
		return "authenticated"
	case account.AwaitingMFA:
		return "awaiting_mfa"
	default:
		return "unauthenticated"
	}
}

func wantsWait(r *http.Request) bool {
	ok, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	return ok
}

func pathIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		http.Error(w, "invalid account index", http.StatusBadRequest)
		return 0, false
	}
	return index, true
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid correlation id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
