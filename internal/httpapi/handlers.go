package httpapi

import (
	"net/http"
	"time"

	"dmarcview.org/internal/authz"
	"dmarcview.org/internal/model"
	"dmarcview.org/internal/mutate"
)

type tokenPairResponse struct {
	Status           string    `json:"status"`
	Message          string    `json:"message"`
	AuthToken        string    `json:"auth_token,omitempty"`
	AuthExpiresAt    time.Time `json:"auth_expires_at,omitempty"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitempty"`
}

func tokenPairBody(res mutate.TokenPairResult) tokenPairResponse {
	return tokenPairResponse{
		Status:           string(res.Kind),
		Message:          res.Message,
		AuthToken:        res.AuthToken,
		AuthExpiresAt:    res.AuthExpiresAt,
		RefreshToken:     res.RefreshToken,
		RefreshExpiresAt: res.RefreshExpiresAt,
	}
}

func (a *API) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		Locale      string `json:"locale"`
		InviteToken string `json:"invite_token"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res := a.mutations.SignUp(r.Context(), mutate.SignUpRequest{
		Email:       req.Email,
		Password:    req.Password,
		Locale:      req.Locale,
		InviteToken: req.InviteToken,
	})
	writeJSON(w, statusForKind(res.Kind), tokenPairBody(res))
}

func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res := a.mutations.SignIn(r.Context(), req.Email, req.Password)
	writeJSON(w, statusForKind(res.Kind), tokenPairBody(res))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res := a.mutations.RefreshSessionTokens(r.Context(), req.RefreshToken)
	writeJSON(w, statusForKind(res.Kind), tokenPairBody(res))
}

func (a *API) handleInvite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req struct {
		OrgID string `json:"org_id"`
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	role, err := model.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}
	subject, _ := authz.SubjectFromContext(r.Context())
	res := a.mutations.InviteUserToOrg(r.Context(), mutate.InviteRequest{
		SubjectKey:  subject,
		TargetEmail: req.Email,
		OrgID:       req.OrgID,
		Role:        role,
	})
	writeJSON(w, statusForKind(res.Kind), map[string]any{
		"status":  string(res.Kind),
		"message": res.Message,
	})
}

func (a *API) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req struct {
		OrgID   string `json:"org_id"`
		UserKey string `json:"user_key"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	subject, _ := authz.SubjectFromContext(r.Context())
	res := a.mutations.RemoveUserFromOrg(r.Context(), mutate.RemoveRequest{
		SubjectKey:    subject,
		TargetUserKey: req.UserKey,
		OrgID:         req.OrgID,
	})
	writeJSON(w, statusForKind(res.Kind), map[string]any{
		"status":  string(res.Kind),
		"message": res.Message,
	})
}

func (a *API) handleCreateDomain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req struct {
		OrgID     string   `json:"org_id"`
		Domain    string   `json:"domain"`
		Selectors []string `json:"selectors"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	subject, _ := authz.SubjectFromContext(r.Context())
	res := a.mutations.CreateDomain(r.Context(), mutate.CreateDomainRequest{
		SubjectKey: subject,
		OrgID:      req.OrgID,
		Host:       req.Domain,
		Selectors:  req.Selectors,
	})
	writeJSON(w, statusForKind(res.Kind), map[string]any{
		"status":    string(res.Kind),
		"message":   res.Message,
		"domain_id": res.DomainID,
	})
}
