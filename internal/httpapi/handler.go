package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/middleware"
	"github.com/MrEthical07/goIdentity/storage/sqlstore"
	"github.com/labstack/echo/v4"
)

// DefaultSessionLifetime is used when a sign-in request names no expiry.
const DefaultSessionLifetime = 30 * 24 * time.Hour

const (
	requestTimeout = 10 * time.Second
	activityLimit  = 50
)

// ActivityReader lists stored activity records for one user.
type ActivityReader interface {
	RecentActivity(ctx context.Context, userID string, limit int) ([]sqlstore.Activity, error)
}

// Handler bundles the engine with the JSON endpoints that drive it.
type Handler struct {
	engine   *goIdentity.Engine
	logger   *slog.Logger
	metrics  http.Handler
	activity ActivityReader
}

// NewHandler returns a Handler. metrics may be nil, in which case /metrics
// is not registered.
func NewHandler(engine *goIdentity.Engine, logger *slog.Logger, metrics http.Handler) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{engine: engine, logger: logger, metrics: metrics}
}

// WithActivity enables GET /v1/activity backed by reader.
func (h *Handler) WithActivity(reader ActivityReader) *Handler {
	h.activity = reader
	return h
}

// Register mounts every route on e.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	if h.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(h.metrics))
	}

	pub := e.Group("/v1", h.requestMetadata)
	pub.POST("/signup", h.SignUp)
	pub.POST("/signin", h.SignIn)
	pub.POST("/password-reset", h.RequestPasswordReset)
	pub.POST("/password-reset/confirm", h.ConfirmPasswordReset)

	auth := e.Group("/v1", echo.WrapMiddleware(middleware.RequireSession(h.engine)))
	auth.GET("/me", h.Me)
	auth.PATCH("/me", h.UpdateProfile)
	auth.DELETE("/sessions/current", h.SignOut)
	auth.GET("/sessions", h.ListSessions)
	auth.DELETE("/sessions/:ref", h.RevokeSession)
	auth.POST("/sessions/revoke-all", h.SignOutAll)

	auth.POST("/two-factor", h.EnableTwoFactor)
	auth.DELETE("/two-factor", h.DisableTwoFactor)
	auth.POST("/two-factor/verify", h.VerifySecondFactor)
	auth.POST("/two-factor/recovery-codes", h.RegenerateRecoveryCodes)

	auth.POST("/codes/:purpose", h.RequestCode)
	auth.POST("/email/verify", h.ConfirmEmail)
	auth.POST("/email/change", h.ChangeEmail)
	auth.POST("/password", h.ChangePassword)
	auth.DELETE("/account", h.DeleteAccount)
	if h.activity != nil {
		auth.GET("/activity", h.Activity)
	}
}

func (h *Handler) requestMetadata(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		r := c.Request()
		c.SetRequest(r.WithContext(middleware.WithRequestMetadata(r.Context(), r)))
		return next(c)
	}
}

func requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

func currentUser(c echo.Context) *goIdentity.User {
	u, _ := middleware.UserFromContext(c.Request().Context())
	return u
}

func currentSession(c echo.Context) *goIdentity.Session {
	s, _ := middleware.SessionFromContext(c.Request().Context())
	return s
}

// ----- DTOs -----

type userResp struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	Username        string    `json:"username,omitempty"`
	IsEmailVerified bool      `json:"is_email_verified"`
	Bio             string    `json:"bio,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func toUserResp(u *goIdentity.User) userResp {
	return userResp{
		ID:              u.ID,
		Email:           u.Email,
		Username:        u.Username,
		IsEmailVerified: u.IsEmailVerified,
		Bio:             u.Bio,
		CreatedAt:       u.CreatedAt,
	}
}

type sessionResp struct {
	ID        string    `json:"id,omitempty"`
	Ref       string    `json:"ref"`
	Current   bool      `json:"current,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type signUpReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
	Bio      string `json:"bio"`
}

type profileReq struct {
	Bio string `json:"bio"`
}

type signInReq struct {
	Email         string     `json:"email"`
	Password      string     `json:"password"`
	TwoFactorCode string     `json:"two_factor_code"`
	ExpiresAt     *time.Time `json:"expires_at"`
}

type emailReq struct {
	Email string `json:"email"`
}

type resetConfirmReq struct {
	UserID      string `json:"user_id"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type codeReq struct {
	Code string `json:"code"`
}

type changeEmailReq struct {
	Code     string `json:"code"`
	NewEmail string `json:"new_email"`
}

type changePasswordReq struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type passwordReq struct {
	Password string `json:"password"`
}

type activityResp struct {
	EventType  string            `json:"event_type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Success    bool              `json:"success"`
	SessionRef string            `json:"session_ref,omitempty"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ----- signed out -----

// Health reports the session store round trip.
func (h *Handler) Health(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	rtt, err := h.engine.Ping(ctx)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok", "redis_rtt_ms": rtt.Milliseconds()})
}

func (h *Handler) SignUp(c echo.Context) error {
	var req signUpReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	user, err := h.engine.SignUp(ctx, goIdentity.SignUpRequest{
		Email:    req.Email,
		Password: req.Password,
		Username: req.Username,
		Bio:      req.Bio,
	})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, toUserResp(user))
}

func (h *Handler) SignIn(c echo.Context) error {
	var req signInReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	expiresAt := time.Now().Add(DefaultSessionLifetime)
	if req.ExpiresAt != nil {
		expiresAt = *req.ExpiresAt
	}

	sess, err := h.engine.SignIn(ctx, goIdentity.SignInRequest{
		Email:         req.Email,
		Password:      req.Password,
		TwoFactorCode: req.TwoFactorCode,
		ExpiresAt:     expiresAt,
	})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, sessionResp{
		ID:        sess.ID,
		Ref:       sess.Ref,
		CreatedAt: sess.CreatedAt,
		ExpiresAt: sess.ExpiresAt,
	})
}

// RequestPasswordReset always answers 202 for a well-formed email so the
// response does not reveal whether an account exists.
func (h *Handler) RequestPasswordReset(c echo.Context) error {
	var req emailReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.engine.RequestPasswordReset(ctx, req.Email); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *Handler) ConfirmPasswordReset(c echo.Context) error {
	var req resetConfirmReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.engine.ResetPassword(ctx, req.UserID, req.Code, req.NewPassword); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ----- signed in -----

func (h *Handler) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, toUserResp(currentUser(c)))
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	var req profileReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	user, err := h.engine.UpdateBio(ctx, currentUser(c).ID, req.Bio)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toUserResp(user))
}

func (h *Handler) SignOut(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.engine.DeleteSession(ctx, currentSession(c).ID); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListSessions(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	sessions, err := h.engine.ListSessions(ctx, currentUser(c).ID)
	if err != nil {
		return h.writeError(c, err)
	}

	current := currentSession(c).Ref
	out := make([]sessionResp, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResp{
			Ref:       s.Ref,
			Current:   s.Ref == current,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"sessions": out})
}

func (h *Handler) RevokeSession(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.engine.RevokeSession(ctx, currentUser(c).ID, c.Param("ref")); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SignOutAll(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	n, err := h.engine.SignOutAll(ctx, currentUser(c).ID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"revoked": n})
}

func (h *Handler) EnableTwoFactor(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	enrollment, err := h.engine.EnableTwoFactor(ctx, currentUser(c).ID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"secret":           enrollment.Secret,
		"provisioning_uri": enrollment.ProvisioningURI,
		"recovery_codes":   enrollment.RecoveryCodes,
	})
}

func (h *Handler) DisableTwoFactor(c echo.Context) error {
	var req passwordReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.engine.DisableTwoFactor(ctx, currentUser(c).ID, req.Password); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) VerifySecondFactor(c echo.Context) error {
	var req codeReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	outcome, err := h.engine.VerifySecondFactor(ctx, currentUser(c).ID, req.Code)
	if err != nil {
		return h.writeError(c, err)
	}
	status := http.StatusOK
	if outcome == goIdentity.SecondFactorRejected {
		status = http.StatusUnauthorized
	}
	return c.JSON(status, echo.Map{"outcome": outcome.String()})
}

func (h *Handler) RegenerateRecoveryCodes(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	codes, err := h.engine.RegenerateRecoveryCodes(ctx, currentUser(c).ID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"recovery_codes": codes})
}

func (h *Handler) RequestCode(c echo.Context) error {
	purpose, err := goIdentity.ParsePurpose(c.Param("purpose"))
	if err != nil {
		return h.writeError(c, &goIdentity.Error{Kind: goIdentity.KindValidation, Op: "RequestCode", Field: "purpose", Err: err})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.engine.RequestTempCode(ctx, purpose, currentUser(c).ID); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *Handler) ConfirmEmail(c echo.Context) error {
	var req codeReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	user, err := h.engine.ConfirmEmailVerification(ctx, currentUser(c).ID, req.Code)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toUserResp(user))
}

func (h *Handler) ChangeEmail(c echo.Context) error {
	var req changeEmailReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	user, err := h.engine.ChangeEmail(ctx, currentUser(c).ID, req.Code, req.NewEmail)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toUserResp(user))
}

func (h *Handler) ChangePassword(c echo.Context) error {
	var req changePasswordReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.engine.ChangePassword(ctx, currentUser(c).ID, req.CurrentPassword, req.NewPassword); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeleteAccount(c echo.Context) error {
	var req codeReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.engine.DeleteAccount(ctx, currentUser(c).ID, req.Code); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Activity lists the caller's most recent activity records.
func (h *Handler) Activity(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	rows, err := h.activity.RecentActivity(ctx, currentUser(c).ID, activityLimit)
	if err != nil {
		h.logger.ErrorContext(ctx, "activity lookup failed", slog.Any("error", err))
		return c.JSON(http.StatusServiceUnavailable, errorResp{Error: goIdentity.KindDependency.String()})
	}

	out := make([]activityResp, 0, len(rows))
	for _, row := range rows {
		out = append(out, activityResp{
			EventType:  row.EventType,
			OccurredAt: time.UnixMilli(row.OccurredAt).UTC(),
			Success:    row.Success,
			SessionRef: row.SessionRef,
			IP:         row.IP,
			UserAgent:  row.UserAgent,
			Error:      row.Error,
			Metadata:   row.Metadata,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"activity": out})
}
