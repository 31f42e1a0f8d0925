package main

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/bibliome/atproto-oauth/oauth"
	"github.com/bibliome/atproto-oauth/syntax"

	"github.com/gorilla/sessions"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:   "oauth-web-demo",
		Usage:  "atproto OAuth web server demo",
		Action: runServer,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "session-secret",
				Usage:    "random string/token used for session cookie security",
				Required: true,
				EnvVars:  []string{"SESSION_SECRET"},
			},
			&cli.StringFlag{
				Name:     "hostname",
				Usage:    "public host name for this client",
				Required: true,
				EnvVars:  []string{"CLIENT_HOSTNAME"},
			},
			&cli.StringFlag{
				Name:    "bind",
				Usage:   "address and port to listen on",
				Value:   ":8080",
				EnvVars: []string{"BIND"},
			},
		},
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(h))
	app.RunAndExitOnError()
}

type Server struct {
	CookieStore *sessions.CookieStore
	OAuth       *oauth.ClientApp
}

//go:embed "base.html"
var tmplBaseText string

//go:embed "home.html"
var tmplHomeText string
var tmplHome = template.Must(template.Must(template.New("home.html").Parse(tmplBaseText)).Parse(tmplHomeText))

//go:embed "login.html"
var tmplLoginText string
var tmplLogin = template.Must(template.Must(template.New("login.html").Parse(tmplBaseText)).Parse(tmplLoginText))

//go:embed "post.html"
var tmplPostText string
var tmplPost = template.Must(template.Must(template.New("post.html").Parse(tmplBaseText)).Parse(tmplPostText))

func runServer(cctx *cli.Context) error {

	hostname := cctx.String("hostname")
	bind := cctx.String("bind")

	config := oauth.ClientConfig{
		ClientID:    fmt.Sprintf("https://%s/oauth/client-metadata.json", hostname),
		RedirectURI: fmt.Sprintf("https://%s/oauth/callback", hostname),
		Scope:       "atproto transition:generic",
	}

	oauthApp, err := oauth.NewClientApp(config, nil, oauth.NewMemStore())
	if err != nil {
		return err
	}
	oauthApp.Events = slog.Default()

	srv := Server{
		CookieStore: sessions.NewCookieStore([]byte(cctx.String("session-secret"))),
		OAuth:       oauthApp,
	}

	http.HandleFunc("GET /", srv.Homepage)
	http.HandleFunc("GET /oauth/client-metadata.json", srv.ClientMetadata)
	http.HandleFunc("GET /oauth/login", srv.OAuthLogin)
	http.HandleFunc("POST /oauth/login", srv.OAuthLogin)
	http.HandleFunc("GET /oauth/callback", srv.OAuthCallback)
	http.HandleFunc("GET /oauth/refresh", srv.OAuthRefresh)
	http.HandleFunc("GET /oauth/logout", srv.OAuthLogout)
	http.HandleFunc("GET /post", srv.Post)
	http.HandleFunc("POST /post", srv.Post)

	slog.Info("starting http server", "bind", bind)
	if err := http.ListenAndServe(bind, nil); err != nil {
		slog.Error("http shutdown", "err", err)
	}
	return nil
}

func (s *Server) currentSessionDID(r *http.Request) *syntax.DID {
	sess, _ := s.CookieStore.Get(r, "oauth-demo")
	accountDID, ok := sess.Values["account_did"].(string)
	if !ok || accountDID == "" {
		return nil
	}
	did, err := syntax.ParseDID(accountDID)
	if err != nil {
		return nil
	}
	return &did
}

func (s *Server) ClientMetadata(w http.ResponseWriter, r *http.Request) {
	slog.Info("client metadata request", "url", r.URL, "host", r.Host)

	meta := s.OAuth.Client.Config.ClientMetadata("atproto-oauth web demo")

	// internal consistency check
	if err := meta.Validate(s.OAuth.Client.Config.ClientID); err != nil {
		slog.Error("validating client metadata", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(meta); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (s *Server) Homepage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	did := s.currentSessionDID(r)
	if did == nil {
		tmplHome.Execute(w, nil)
		return
	}
	if _, err := s.OAuth.ResumeSession(ctx, *did); err != nil {
		tmplHome.Execute(w, nil)
		return
	}
	tmplHome.Execute(w, did)
}

func (s *Server) OAuthLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != "POST" {
		tmplLogin.Execute(w, nil)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, fmt.Errorf("parsing form data: %w", err).Error(), http.StatusBadRequest)
		return
	}
	username := r.PostFormValue("username")

	redirectURL, err := s.OAuth.StartAuthFlow(ctx, username)
	if err != nil {
		http.Error(w, fmt.Errorf("OAuth login failed: %w", err).Error(), http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

func (s *Server) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	params := r.URL.Query()
	sessData, err := s.OAuth.ProcessCallback(ctx, oauth.CallbackParams{
		State: params.Get("state"),
		ISS:   params.Get("iss"),
		Code:  params.Get("code"),
	})
	if err != nil {
		http.Error(w, fmt.Errorf("processing OAuth callback: %w", err).Error(), http.StatusBadRequest)
		return
	}

	// signed cookie session, indicating account DID
	sess, _ := s.CookieStore.Get(r, "oauth-demo")
	sess.Values["account_did"] = sessData.DID.String()
	if err := sess.Save(r, w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	slog.Info("login successful", "did", sessData.DID)
	http.Redirect(w, r, "/post", http.StatusFound)
}

func (s *Server) OAuthRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	did := s.currentSessionDID(r)
	if did == nil {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return
	}
	oauthSess, err := s.OAuth.ResumeSession(ctx, *did)
	if err != nil {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return
	}
	if err := s.OAuth.RefreshSession(ctx, oauthSess); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	slog.Info("refreshed tokens", "did", did)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) OAuthLogout(w http.ResponseWriter, r *http.Request) {

	did := s.currentSessionDID(r)
	if did != nil {
		if err := s.OAuth.Logout(r.Context(), *did); err != nil {
			slog.Error("failed to delete session", "did", did, "err", err)
		}
	}

	// wipe all secure cookie session data
	sess, _ := s.CookieStore.Get(r, "oauth-demo")
	sess.Values = make(map[any]any)
	if err := sess.Save(r, w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	slog.Info("logged out")
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) Post(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	did := s.currentSessionDID(r)
	if did == nil {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return
	}

	if r.Method != "POST" {
		tmplPost.Execute(w, did)
		return
	}

	oauthSess, err := s.OAuth.ResumeSession(ctx, *did)
	if err != nil {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, fmt.Errorf("parsing form data: %w", err).Error(), http.StatusBadRequest)
		return
	}
	text := r.PostFormValue("post_text")

	slog.Info("attempting post", "did", did, "text", text)
	status, err := s.createPost(ctx, oauthSess, text)
	if status == http.StatusUnauthorized {
		// access token may have expired; refresh and try once more
		if err := s.OAuth.RefreshSession(ctx, oauthSess); err != nil {
			http.Error(w, fmt.Errorf("refreshing session: %w", err).Error(), http.StatusBadRequest)
			return
		}
		status, err = s.createPost(ctx, oauthSess, text)
	}
	if err != nil {
		http.Error(w, fmt.Errorf("posting failed: %w", err).Error(), http.StatusBadRequest)
		return
	}
	if status != http.StatusOK {
		http.Error(w, fmt.Sprintf("posting failed: HTTP %d", status), http.StatusBadRequest)
		return
	}

	http.Redirect(w, r, "/post", http.StatusFound)
}

func (s *Server) createPost(ctx context.Context, sess *oauth.SessionData, text string) (int, error) {
	key, err := oauth.ParseDPoPKey(sess.DPoPPrivateJWK)
	if err != nil {
		return 0, err
	}

	body := map[string]any{
		"repo":       sess.DID.String(),
		"collection": "app.bsky.feed.post",
		"record": map[string]any{
			"$type":     "app.bsky.feed.post",
			"text":      text,
			"createdAt": time.Now().UTC().Format(time.RFC3339),
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", sess.PDSEndpoint+"/xrpc/com.atproto.repo.createRecord", bytes.NewReader(b))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, nonce, err := s.OAuth.Client.DoWithAuth(req, sess.AccessToken, key, sess.DPoPPDSNonce)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if nonce != sess.DPoPPDSNonce {
		sess.DPoPPDSNonce = nonce
		if err := s.OAuth.Store.SaveSession(ctx, *sess); err != nil {
			slog.Warn("failed persisting session nonce", "did", sess.DID, "err", err)
		}
	}
	return resp.StatusCode, nil
}
