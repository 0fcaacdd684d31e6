package auth

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tubelens/db"

	_ "modernc.org/sqlite"
)

// --- helpers ---

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	raw, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	raw.SetMaxOpenConns(1)
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := raw.Exec(p); err != nil {
			t.Fatalf("pragma: %v", err)
		}
	}
	if err := db.RunMigrations(raw, db.DialectSQLite); err != nil {
		t.Fatalf("schema migration: %v", err)
	}
	t.Cleanup(func() { raw.Close() })
	return &Handler{DB: db.New(raw, db.DialectSQLite), JWTSecret: "test-secret"}
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&m); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	return m
}

func signup(t *testing.T, h *Handler, username, email, password string) (token, userID string) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "email": email, "password": password})
	req := httptest.NewRequest("POST", "/api/auth/signup", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleSignup(rec, req)
	if rec.Code != 200 {
		t.Fatalf("signup failed: %d %s", rec.Code, rec.Body.String())
	}
	resp := decodeJSON(t, rec)
	user := resp["user"].(map[string]interface{})
	return resp["token"].(string), user["id"].(string)
}

func userCount(t *testing.T, h *Handler) int {
	t.Helper()
	var n int
	if err := h.DB.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		t.Fatalf("count users: %v", err)
	}
	return n
}

// --- Signup ---

func TestSignup_Success(t *testing.T) {
	h := newTestHandler(t)
	body := `{"username":"alice","email":"alice@example.com","password":"password123"}`
	req := httptest.NewRequest("POST", "/api/auth/signup", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	h.HandleSignup(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	resp := decodeJSON(t, rec)
	token, _ := resp["token"].(string)
	if token == "" {
		t.Fatal("expected token in response")
	}
	user, _ := resp["user"].(map[string]interface{})
	if user["email"] != "alice@example.com" || user["username"] != "alice" {
		t.Errorf("user = %v", user)
	}

	// The returned token must verify back to the same identity.
	uid, err := ParseToken(token, h.JWTSecret)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if uid != user["id"] {
		t.Errorf("token user = %q, want %q", uid, user["id"])
	}
}

func TestSignup_DuplicateEmail(t *testing.T) {
	h := newTestHandler(t)
	signup(t, h, "alice", "alice@example.com", "password123")

	body := `{"username":"impostor","email":"alice@example.com","password":"hunter2hunter2"}`
	req := httptest.NewRequest("POST", "/api/auth/signup", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.HandleSignup(rec, req)

	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp := decodeJSON(t, rec); resp["error"] != "Email already exists" {
		t.Errorf("error = %v", resp["error"])
	}
	if n := userCount(t, h); n != 1 {
		t.Errorf("user count = %d, want 1 (no new record on duplicate)", n)
	}
}

func TestSignup_InvalidEmail(t *testing.T) {
	h := newTestHandler(t)
	body := `{"username":"alice","email":"not-an-email","password":"password123"}`
	req := httptest.NewRequest("POST", "/api/auth/signup", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.HandleSignup(rec, req)

	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// --- Login ---

func TestLogin_Success(t *testing.T) {
	h := newTestHandler(t)
	_, uid := signup(t, h, "bob", "bob@example.com", "correct horse")

	body := `{"email":"bob@example.com","password":"correct horse"}`
	req := httptest.NewRequest("POST", "/api/auth/login", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.HandleLogin(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	resp := decodeJSON(t, rec)
	got, err := ParseToken(resp["token"].(string), h.JWTSecret)
	if err != nil || got != uid {
		t.Errorf("token resolves to %q (err %v), want %q", got, err, uid)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	h := newTestHandler(t)
	signup(t, h, "bob", "bob@example.com", "correct horse")

	body := `{"email":"bob@example.com","password":"wrong"}`
	req := httptest.NewRequest("POST", "/api/auth/login", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.HandleLogin(rec, req)

	if rec.Code != 401 {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if resp := decodeJSON(t, rec); resp["error"] != "Invalid credentials" {
		t.Errorf("error = %v", resp["error"])
	}
}

func TestLogin_UnknownEmail(t *testing.T) {
	h := newTestHandler(t)
	body := `{"email":"ghost@example.com","password":"whatever"}`
	req := httptest.NewRequest("POST", "/api/auth/login", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.HandleLogin(rec, req)

	if rec.Code != 401 {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

// --- Middleware / verify ---

func protectedProbe(h *Handler) (http.Handler, *string) {
	var seen string
	probe := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, _ := ExtractUserID(r)
		seen = uid
		w.WriteHeader(204)
	}))
	return probe, &seen
}

func TestMiddleware_ValidToken(t *testing.T) {
	h := newTestHandler(t)
	token, uid := signup(t, h, "carol", "carol@example.com", "password123")

	probe, seen := protectedProbe(h)
	req := httptest.NewRequest("GET", "/api/auth/verify", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	probe.ServeHTTP(rec, req)

	if rec.Code != 204 {
		t.Fatalf("status = %d, want 204; body: %s", rec.Code, rec.Body.String())
	}
	if *seen != uid {
		t.Errorf("context user = %q, want %q", *seen, uid)
	}
}

func TestMiddleware_MissingToken(t *testing.T) {
	h := newTestHandler(t)
	probe, _ := protectedProbe(h)
	req := httptest.NewRequest("GET", "/api/auth/verify", nil)
	rec := httptest.NewRecorder()
	probe.ServeHTTP(rec, req)

	if rec.Code != 401 {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if resp := decodeJSON(t, rec); resp["message"] != "Token is missing!" {
		t.Errorf("message = %v", resp["message"])
	}
}

func TestMiddleware_InvalidToken(t *testing.T) {
	h := newTestHandler(t)
	probe, _ := protectedProbe(h)
	req := httptest.NewRequest("GET", "/api/auth/verify", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	probe.ServeHTTP(rec, req)

	if rec.Code != 401 {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if resp := decodeJSON(t, rec); resp["message"] != "Invalid token!" {
		t.Errorf("message = %v", resp["message"])
	}
}

func TestMiddleware_ExpiredToken(t *testing.T) {
	h := newTestHandler(t)
	_, uid := signup(t, h, "dave", "dave@example.com", "password123")
	expired, err := SignToken(uid, h.JWTSecret, -time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	probe, _ := protectedProbe(h)
	req := httptest.NewRequest("GET", "/api/auth/verify", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	rec := httptest.NewRecorder()
	probe.ServeHTTP(rec, req)

	if rec.Code != 401 {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if resp := decodeJSON(t, rec); resp["message"] != "Token has expired!" {
		t.Errorf("message = %v", resp["message"])
	}
}

func TestMiddleware_TokenForDeletedUser(t *testing.T) {
	h := newTestHandler(t)
	token, uid := signup(t, h, "eve", "eve@example.com", "password123")
	if _, err := h.DB.Exec(`DELETE FROM users WHERE id = ?`, uid); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	probe, _ := protectedProbe(h)
	req := httptest.NewRequest("GET", "/api/auth/verify", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	probe.ServeHTTP(rec, req)

	if rec.Code != 401 {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if resp := decodeJSON(t, rec); resp["message"] != "Token is invalid!" {
		t.Errorf("message = %v", resp["message"])
	}
}

func TestVerify_ReturnsIdentity(t *testing.T) {
	h := newTestHandler(t)
	_, uid := signup(t, h, "frank", "frank@example.com", "password123")

	req := httptest.NewRequest("GET", "/api/auth/verify", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserIDKey, uid))
	rec := httptest.NewRecorder()
	h.HandleVerify(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeJSON(t, rec)
	user := resp["user"].(map[string]interface{})
	if user["id"] != uid || user["email"] != "frank@example.com" {
		t.Errorf("user = %v", user)
	}
}

func TestLogout(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest("POST", "/api/auth/logout", nil)
	rec := httptest.NewRecorder()
	h.HandleLogout(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp := decodeJSON(t, rec); resp["message"] != "Successfully logged out" {
		t.Errorf("message = %v", resp["message"])
	}
}

// --- Password reset ---

func forgotPassword(t *testing.T, h *Handler, email string) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email})
	req := httptest.NewRequest("POST", "/api/auth/forgot-password", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleForgotPassword(rec, req)
	if rec.Code != 200 {
		t.Fatalf("forgot-password failed: %d %s", rec.Code, rec.Body.String())
	}
}

// storedResetToken decrypts the reset token currently on the user row.
func storedResetToken(t *testing.T, h *Handler, uid string) string {
	t.Helper()
	var stored sql.NullString
	if err := h.DB.QueryRow(`SELECT reset_token FROM users WHERE id = ?`, uid).Scan(&stored); err != nil {
		t.Fatalf("read reset token: %v", err)
	}
	if !stored.Valid {
		return ""
	}
	token, err := decryptResetToken(stored.String, h.JWTSecret)
	if err != nil {
		t.Fatalf("decrypt reset token: %v", err)
	}
	return token
}

func resetPassword(t *testing.T, h *Handler, token, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"token": token, "password": password})
	req := httptest.NewRequest("POST", "/api/auth/reset-password", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleResetPassword(rec, req)
	return rec
}

func TestForgotPassword_UnknownEmail(t *testing.T) {
	h := newTestHandler(t)
	body := `{"email":"nobody@example.com"}`
	req := httptest.NewRequest("POST", "/api/auth/forgot-password", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.HandleForgotPassword(rec, req)

	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if resp := decodeJSON(t, rec); resp["error"] != "Email not found" {
		t.Errorf("error = %v", resp["error"])
	}
}

func TestResetPassword_FullFlow(t *testing.T) {
	h := newTestHandler(t)
	_, uid := signup(t, h, "grace", "grace@example.com", "old password")
	forgotPassword(t, h, "grace@example.com")
	token := storedResetToken(t, h, uid)

	rec := resetPassword(t, h, token, "new password 42")
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeJSON(t, rec); resp["message"] != "Password reset successful" {
		t.Errorf("message = %v", resp["message"])
	}

	// New password works, old one does not.
	body := `{"email":"grace@example.com","password":"new password 42"}`
	req := httptest.NewRequest("POST", "/api/auth/login", bytes.NewBufferString(body))
	loginRec := httptest.NewRecorder()
	h.HandleLogin(loginRec, req)
	if loginRec.Code != 200 {
		t.Errorf("login with new password = %d, want 200", loginRec.Code)
	}

	body = `{"email":"grace@example.com","password":"old password"}`
	req = httptest.NewRequest("POST", "/api/auth/login", bytes.NewBufferString(body))
	loginRec = httptest.NewRecorder()
	h.HandleLogin(loginRec, req)
	if loginRec.Code != 401 {
		t.Errorf("login with old password = %d, want 401", loginRec.Code)
	}
}

func TestResetPassword_TokenIsSingleUse(t *testing.T) {
	h := newTestHandler(t)
	_, uid := signup(t, h, "heidi", "heidi@example.com", "password123")
	forgotPassword(t, h, "heidi@example.com")
	token := storedResetToken(t, h, uid)

	if rec := resetPassword(t, h, token, "first new password"); rec.Code != 200 {
		t.Fatalf("first reset = %d, want 200", rec.Code)
	}
	rec := resetPassword(t, h, token, "second new password")
	if rec.Code != 400 {
		t.Fatalf("second reset = %d, want 400", rec.Code)
	}
	if resp := decodeJSON(t, rec); resp["error"] != "Invalid reset token" {
		t.Errorf("error = %v", resp["error"])
	}
}

func TestResetPassword_SupersededTokenRejected(t *testing.T) {
	h := newTestHandler(t)
	_, uid := signup(t, h, "ivan", "ivan@example.com", "password123")

	forgotPassword(t, h, "ivan@example.com")
	first := storedResetToken(t, h, uid)

	// Requesting again replaces the stored token; tokens carry an iat so
	// a later issue produces a different JWT.
	time.Sleep(1100 * time.Millisecond)
	forgotPassword(t, h, "ivan@example.com")
	second := storedResetToken(t, h, uid)
	if first == second {
		t.Fatal("expected a fresh reset token on second request")
	}

	// The first token still verifies cryptographically but no longer
	// matches the stored value.
	rec := resetPassword(t, h, first, "sneaky password")
	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if rec := resetPassword(t, h, second, "legit password"); rec.Code != 200 {
		t.Errorf("latest token should work, got %d", rec.Code)
	}
}

func TestResetPassword_ExpiredToken(t *testing.T) {
	h := newTestHandler(t)
	_, uid := signup(t, h, "judy", "judy@example.com", "password123")

	expired, err := SignToken(uid, h.JWTSecret, -time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	// Even when the expired token is the stored one, expiry wins.
	stored, err := encryptResetToken(expired, h.JWTSecret)
	if err != nil {
		t.Fatalf("encrypt token: %v", err)
	}
	if _, err := h.DB.Exec(`UPDATE users SET reset_token = ? WHERE id = ?`, stored, uid); err != nil {
		t.Fatalf("store token: %v", err)
	}

	rec := resetPassword(t, h, expired, "new password")
	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp := decodeJSON(t, rec); resp["error"] != "Reset token has expired" {
		t.Errorf("error = %v", resp["error"])
	}
}

func TestResetPassword_GarbageToken(t *testing.T) {
	h := newTestHandler(t)
	rec := resetPassword(t, h, "garbage", "new password")
	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp := decodeJSON(t, rec); resp["error"] != "Invalid reset token" {
		t.Errorf("error = %v", resp["error"])
	}
}
