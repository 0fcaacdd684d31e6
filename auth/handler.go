package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"tubelens/db"
	"tubelens/httputil"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const maxPasswordLen = 72 // bcrypt truncates at 72 bytes

type contextKey string

// UserIDKey is the context key used to store the authenticated user ID.
const UserIDKey contextKey = "user_id"

// ExtractUserID returns the user ID from the request context, if present.
func ExtractUserID(r *http.Request) (string, bool) {
	uid, ok := r.Context().Value(UserIDKey).(string)
	return uid, ok && uid != ""
}

// User is the public shape of an account, as returned by the auth endpoints.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Handler holds dependencies for authentication endpoints.
type Handler struct {
	DB        *db.CompatDB
	JWTSecret string
}

// SignupRequest is the JSON body for POST /api/auth/signup.
type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleSignup creates a new user account and returns a session token.
func (h *Handler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(httputil.LimitedBodyReader(r)).Decode(&req); err != nil {
		httputil.WriteJSON(w, 400, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Username == "" || req.Password == "" {
		httputil.WriteJSON(w, 400, map[string]string{"error": "username and password are required"})
		return
	}
	if len(req.Password) > maxPasswordLen {
		httputil.WriteJSON(w, 400, map[string]string{"error": "password must not exceed 72 characters"})
		return
	}
	if !strings.Contains(req.Email, "@") || len(req.Email) < 5 {
		httputil.WriteJSON(w, 400, map[string]string{"error": "a valid email address is required"})
		return
	}

	var existing string
	err := h.DB.QueryRowContext(r.Context(),
		`SELECT id FROM users WHERE email = ?`, req.Email).Scan(&existing)
	if err == nil {
		httputil.WriteJSON(w, 400, map[string]string{"error": "Email already exists"})
		return
	}
	if !errors.Is(err, sql.ErrNoRows) {
		httputil.WriteJSON(w, 500, map[string]string{"error": "internal error"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		httputil.WriteJSON(w, 500, map[string]string{"error": "internal error"})
		return
	}

	userID := uuid.New().String()
	_, err = h.DB.ExecContext(r.Context(),
		`INSERT INTO users (id, username, email, password_hash) VALUES (?, ?, ?, ?)`,
		userID, req.Username, req.Email, string(hash))
	if err != nil {
		// Concurrent signup with the same email loses the race at the
		// unique index rather than the pre-check.
		if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "duplicate key") {
			httputil.WriteJSON(w, 400, map[string]string{"error": "Email already exists"})
			return
		}
		httputil.WriteJSON(w, 500, map[string]string{"error": "failed to create user"})
		return
	}

	token, err := SignToken(userID, h.JWTSecret, SessionTokenTTL)
	if err != nil {
		httputil.WriteJSON(w, 500, map[string]string{"error": "failed to generate token"})
		return
	}

	httputil.WriteJSON(w, 200, map[string]interface{}{
		"token": token,
		"user":  User{ID: userID, Username: req.Username, Email: req.Email},
	})
}

// LoginRequest is the JSON body for POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin authenticates an existing user by email and password.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(httputil.LimitedBodyReader(r)).Decode(&req); err != nil {
		httputil.WriteJSON(w, 400, map[string]string{"error": "invalid request body"})
		return
	}

	var user User
	var hash string
	err := h.DB.QueryRowContext(r.Context(),
		`SELECT id, username, email, password_hash FROM users WHERE email = ?`,
		req.Email).Scan(&user.ID, &user.Username, &user.Email, &hash)
	if err != nil {
		httputil.WriteJSON(w, 401, map[string]string{"error": "Invalid credentials"})
		return
	}

	if len(req.Password) > maxPasswordLen {
		httputil.WriteJSON(w, 401, map[string]string{"error": "Invalid credentials"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
		httputil.WriteJSON(w, 401, map[string]string{"error": "Invalid credentials"})
		return
	}

	token, err := SignToken(user.ID, h.JWTSecret, SessionTokenTTL)
	if err != nil {
		httputil.WriteJSON(w, 500, map[string]string{"error": "failed to generate token"})
		return
	}
	httputil.WriteJSON(w, 200, map[string]interface{}{"token": token, "user": user})
}

// HandleVerify returns the identity encoded in the presented session token.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	userID, _ := ExtractUserID(r)
	user, err := h.userByID(r.Context(), userID)
	if err != nil {
		httputil.WriteJSON(w, 401, map[string]string{"message": "Token is invalid!"})
		return
	}
	httputil.WriteJSON(w, 200, map[string]interface{}{"user": user})
}

// HandleLogout acknowledges the logout. Tokens are stateless; no server-side
// invalidation happens here.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, 200, map[string]string{"message": "Successfully logged out"})
}

// ForgotPasswordRequest is the JSON body for POST /api/auth/forgot-password.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// HandleForgotPassword issues a 1-hour reset token and stores it (encrypted)
// on the user row, replacing any previous one. Delivery of the token is out
// of band.
func (h *Handler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := json.NewDecoder(httputil.LimitedBodyReader(r)).Decode(&req); err != nil {
		httputil.WriteJSON(w, 400, map[string]string{"error": "invalid request body"})
		return
	}

	var userID string
	err := h.DB.QueryRowContext(r.Context(),
		`SELECT id FROM users WHERE email = ?`, req.Email).Scan(&userID)
	if err != nil {
		httputil.WriteJSON(w, 404, map[string]string{"error": "Email not found"})
		return
	}

	resetToken, err := SignToken(userID, h.JWTSecret, ResetTokenTTL)
	if err != nil {
		httputil.WriteJSON(w, 500, map[string]string{"error": "failed to generate token"})
		return
	}
	stored, err := encryptResetToken(resetToken, h.JWTSecret)
	if err != nil {
		httputil.WriteJSON(w, 500, map[string]string{"error": "internal error"})
		return
	}

	if _, err := h.DB.ExecContext(r.Context(),
		`UPDATE users SET reset_token = ? WHERE id = ?`, stored, userID); err != nil {
		httputil.WriteJSON(w, 500, map[string]string{"error": "failed to store reset token"})
		return
	}

	httputil.WriteJSON(w, 200, map[string]string{"message": "Password reset instructions sent"})
}

// ResetPasswordRequest is the JSON body for POST /api/auth/reset-password.
type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

var errResetTokenMismatch = errors.New("reset token mismatch")

// HandleResetPassword sets a new password if the presented token verifies
// and matches the stored one. A token that verifies cryptographically but
// was superseded by a newer one is rejected.
func (h *Handler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(httputil.LimitedBodyReader(r)).Decode(&req); err != nil {
		httputil.WriteJSON(w, 400, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Password == "" || len(req.Password) > maxPasswordLen {
		httputil.WriteJSON(w, 400, map[string]string{"error": "a valid password is required"})
		return
	}

	userID, err := ParseToken(req.Token, h.JWTSecret)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			httputil.WriteJSON(w, 400, map[string]string{"error": "Reset token has expired"})
			return
		}
		httputil.WriteJSON(w, 400, map[string]string{"error": "Invalid reset token"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		httputil.WriteJSON(w, 500, map[string]string{"error": "internal error"})
		return
	}

	// Compare-and-swap under a write transaction so the token cannot be
	// consumed twice.
	err = db.WithTx(r.Context(), h.DB, func(conn *db.CompatConn) error {
		var stored sql.NullString
		if err := conn.QueryRowContext(r.Context(),
			`SELECT reset_token FROM users WHERE id = ?`, userID).Scan(&stored); err != nil {
			return errResetTokenMismatch
		}
		if !stored.Valid || stored.String == "" {
			return errResetTokenMismatch
		}
		current, err := decryptResetToken(stored.String, h.JWTSecret)
		if err != nil || current != req.Token {
			return errResetTokenMismatch
		}
		_, err = conn.ExecContext(r.Context(),
			`UPDATE users SET password_hash = ?, reset_token = NULL WHERE id = ?`,
			string(hash), userID)
		return err
	})
	if err != nil {
		if errors.Is(err, errResetTokenMismatch) {
			httputil.WriteJSON(w, 400, map[string]string{"error": "Invalid reset token"})
			return
		}
		log.Printf("reset password for user %s: %v", userID, err)
		httputil.WriteJSON(w, 500, map[string]string{"error": "failed to reset password"})
		return
	}

	httputil.WriteJSON(w, 200, map[string]string{"message": "Password reset successful"})
}

func (h *Handler) userByID(ctx context.Context, id string) (User, error) {
	var u User
	err := h.DB.QueryRowContext(ctx,
		`SELECT id, username, email FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Username, &u.Email)
	return u, err
}

// Middleware requires a valid session token and puts the user ID into the
// request context. The token is whatever follows the first space in the
// Authorization header value.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if header == "" || len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
			httputil.WriteJSON(w, 401, map[string]string{"message": "Token is missing!"})
			return
		}

		userID, err := ParseToken(strings.TrimSpace(parts[1]), h.JWTSecret)
		if err != nil {
			if errors.Is(err, ErrTokenExpired) {
				httputil.WriteJSON(w, 401, map[string]string{"message": "Token has expired!"})
				return
			}
			httputil.WriteJSON(w, 401, map[string]string{"message": "Invalid token!"})
			return
		}

		// The token must still resolve to an existing account.
		if _, err := h.userByID(r.Context(), userID); err != nil {
			httputil.WriteJSON(w, 401, map[string]string{"message": "Token is invalid!"})
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
