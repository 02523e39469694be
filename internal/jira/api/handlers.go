package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/steveyegge/jirasync/internal/jira/schema"
)

// decodeBody decodes the JSON request body into v. An empty body leaves v
// untouched and reports false.
func decodeBody(r *http.Request, v any) (bool, error) {
	if r.Body == nil {
		return false, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return false, &schema.ValidationError{Field: "body", Reason: err.Error()}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return false, &schema.ValidationError{Field: "body", Reason: "is not valid JSON: " + err.Error()}
	}
	return true, nil
}

// credentials returns the credentials of a sync request.
func (a *API) credentials(r *http.Request) (schema.Credentials, error) {
	var creds schema.Credentials
	ok, err := decodeBody(r, &creds)
	if err != nil {
		return creds, err
	}
	if !ok {
		return a.creds, nil
	}
	return creds, nil
}

func storeContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), defaultStoreTimeout)
}

// ===== Health =====

func (a *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"last_run": a.syncer.LastResult(),
	})
}

func (a *API) statsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := storeContext(r)
	defer cancel()

	stats, err := a.syncer.Stats(ctx)
	if err != nil {
		a.reportError(w, err, "An error occurred while counting rows.")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ===== Sync =====

func (a *API) syncHandler(w http.ResponseWriter, r *http.Request) {
	creds, err := a.credentials(r)
	if err != nil {
		a.reportError(w, err, "")
		return
	}
	res, err := a.syncer.Sync(r.Context(), creds)
	if err != nil {
		a.reportError(w, err, "An error occurred while syncing.")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) syncIssuesHandler(w http.ResponseWriter, r *http.Request) {
	creds, err := a.credentials(r)
	if err != nil {
		a.reportError(w, err, "")
		return
	}
	issues, err := a.syncer.FetchAndReconcileIssues(r.Context(), creds)
	if err != nil {
		a.reportError(w, err, "An error occurred while fetching and saving issues.")
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(issues))
}

func (a *API) syncUsersHandler(w http.ResponseWriter, r *http.Request) {
	creds, err := a.credentials(r)
	if err != nil {
		a.reportError(w, err, "")
		return
	}
	users, err := a.syncer.FetchAndReconcileUsers(r.Context(), creds)
	if err != nil {
		a.reportError(w, err, "An error occurred while fetching and saving users.")
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(users))
}

func (a *API) syncHistoryHandler(w http.ResponseWriter, r *http.Request) {
	creds, err := a.credentials(r)
	if err != nil {
		a.reportError(w, err, "")
		return
	}
	rows, err := a.syncer.FetchAndSaveIssueHistory(r.Context(), creds)
	if err != nil {
		a.reportError(w, err, "An error occurred while fetching and saving issue history.")
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(rows))
}

// ===== Issues =====

func (a *API) issuesHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := storeContext(r)
	defer cancel()

	issues, err := a.syncer.GetIssuesFromStore(ctx)
	if err != nil {
		a.reportError(w, err, "An error occurred while reading issues.")
		return
	}
	if len(issues) == 0 {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, issues)
}

func (a *API) remoteIssuesHandler(w http.ResponseWriter, r *http.Request) {
	issues, err := a.syncer.FetchRemoteIssues(r.Context(), a.creds)
	if err != nil {
		a.reportError(w, err, "An error occurred while fetching issues.")
		return
	}
	if len(issues) == 0 {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, issues)
}

func (a *API) issueHistoryHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := storeContext(r)
	defer cancel()

	rows, err := a.syncer.ListIssueHistory(ctx, chi.URLParam(r, "key"))
	if err != nil {
		a.reportError(w, err, "An error occurred while reading issue history.")
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(rows))
}

// ===== Users =====

func (a *API) usersHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := storeContext(r)
	defer cancel()

	users, err := a.syncer.ListUsers(ctx)
	if err != nil {
		a.reportError(w, err, "An error occurred while reading users.")
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(users))
}

func (a *API) addUserHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := storeContext(r)
	defer cancel()

	u := &schema.User{Active: true}
	if _, err := decodeBody(r, u); err != nil {
		a.reportError(w, err, "")
		return
	}
	created, err := a.syncer.AddUser(ctx, u)
	if err != nil {
		a.reportError(w, err, "An error occurred while adding the user.")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) userActivitiesHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := storeContext(r)
	defer cancel()

	acts, err := a.syncer.ListUserActivities(ctx, chi.URLParam(r, "id"))
	if err != nil {
		a.reportError(w, err, "An error occurred while reading user activities.")
		return
	}
	if len(acts) == 0 {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, acts)
}

func (a *API) userProfileHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := storeContext(r)
	defer cancel()

	p, err := a.syncer.GetUserProfile(ctx, chi.URLParam(r, "id"))
	if err != nil {
		a.reportError(w, err, "An error occurred while reading the user profile.")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) addProfileHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := storeContext(r)
	defer cancel()

	var p schema.UserProfile
	if _, err := decodeBody(r, &p); err != nil {
		a.reportError(w, err, "")
		return
	}
	created, err := a.syncer.AddUserProfile(ctx, &p)
	if err != nil {
		a.reportError(w, err, "An error occurred while adding the user profile.")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ===== Activity =====

func (a *API) activityTypesHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := storeContext(r)
	defer cancel()

	types, err := a.syncer.ListActivityTypes(ctx)
	if err != nil {
		a.reportError(w, err, "An error occurred while reading activity types.")
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(types))
}

func (a *API) addActivityTypeHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := storeContext(r)
	defer cancel()

	var req schema.ActivityType
	if _, err := decodeBody(r, &req); err != nil {
		a.reportError(w, err, "")
		return
	}
	typ, err := a.syncer.AddActivityType(ctx, req.Name)
	if err != nil {
		a.reportError(w, err, "An error occurred while adding the activity type.")
		return
	}
	writeJSON(w, http.StatusCreated, typ)
}

// AddActivityRequest is the request to record a user activity.
type AddActivityRequest struct {
	UserID       string `json:"user_id"`
	ActivityType string `json:"activity_type"`
}

func (a *API) addActivityHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := storeContext(r)
	defer cancel()

	var req AddActivityRequest
	if _, err := decodeBody(r, &req); err != nil {
		a.reportError(w, err, "")
		return
	}
	act, err := a.syncer.AddUserActivity(ctx, req.UserID, req.ActivityType)
	if err != nil {
		a.reportError(w, err, "An error occurred while adding the activity.")
		return
	}
	writeJSON(w, http.StatusCreated, act)
}
