// Package gmailapi wraps users.labels.* and users.messages.import|insert
// with token refresh and quota-aware backoff, grounded on termail's
// internal/provider/gmail package but generalized from a single
// interactive account to the migration's import/insert ingestion path.
package gmailapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapiv1 "google.golang.org/api/gmail/v1"

	"github.com/lu-zhengda/icloud-to-gmail/internal/migerr"
)

// installedAppClient is the subset of Google's downloadable OAuth client
// secrets JSON this package cares about, used only to detect and reject a
// "web" application client before attempting the loopback flow (a web
// client's redirect URIs are never a loopback address, so the flow would
// otherwise fail far from this clear error message).
type installedAppClient struct {
	Installed *struct {
		ClientID     string   `json:"client_id"`
		ClientSecret string   `json:"client_secret"`
		RedirectURIs []string `json:"redirect_uris"`
	} `json:"installed"`
	Web *struct {
		ClientID string `json:"client_id"`
	} `json:"web"`
}

// LoadOAuthConfig reads a Google OAuth client secrets JSON file and builds
// an oauth2.Config for the loopback ("installed app") flow. It rejects a
// "Web application" OAuth client outright: the Gmail API scopes this
// migration needs are only obtainable through an installed-app or desktop
// client, and a web client's fixed, non-loopback redirect URI would
// otherwise fail deep inside the HTTP round trip instead of at startup.
func LoadOAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, migerr.New(migerr.ConfigInvalid, "read credentials file", err)
	}

	var probe installedAppClient
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, migerr.New(migerr.ConfigInvalid, "parse credentials file", err)
	}
	if probe.Installed == nil && probe.Web != nil {
		return nil, migerr.New(migerr.ConfigInvalid, "credentials file",
			fmt.Errorf("OAuth client %q is a Web application client; create a Desktop app / TVs and Limited Input devices client instead", probe.Web.ClientID))
	}

	cfg, err := google.ConfigFromJSON(data,
		gmailapiv1.GmailModifyScope,
		gmailapiv1.GmailLabelsScope,
		gmailapiv1.GmailInsertScope,
	)
	if err != nil {
		return nil, migerr.New(migerr.ConfigInvalid, "build oauth config", err)
	}
	return cfg, nil
}

// RunLoopbackFlow opens a local HTTP listener, prints the consent URL, and
// exchanges the resulting authorization code for a token — the same
// local-callback-server shape as termail's authenticate(), generalized to
// a configurable oauth2.Config instead of a package-global one.
func RunLoopbackFlow(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, migerr.New(migerr.ConfigInvalid, "start oauth callback listener", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	cfg.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d", port)

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if errParam := r.URL.Query().Get("error"); errParam != "" {
			errCh <- fmt.Errorf("oauth consent denied: %s", errParam)
			fmt.Fprint(w, "Authorization failed. You can close this tab.")
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			errCh <- fmt.Errorf("no code in oauth callback")
			fmt.Fprint(w, "Authorization failed. You can close this tab.")
			return
		}
		codeCh <- code
		fmt.Fprint(w, "Authorization successful. You can close this tab.")
	})

	server := &http.Server{Handler: mux}
	go server.Serve(listener)
	defer server.Shutdown(ctx)

	url := cfg.AuthCodeURL("state", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Printf("\nOpen this URL in your browser to authorize the migration to access Gmail:\n\n  %s\n\nWaiting for authorization...\n", url)

	select {
	case code := <-codeCh:
		token, err := cfg.Exchange(ctx, code)
		if err != nil {
			return nil, migerr.New(migerr.AuthFailed, "exchange oauth code", err)
		}
		return token, nil
	case err := <-errCh:
		return nil, migerr.New(migerr.AuthFailed, "oauth consent", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
