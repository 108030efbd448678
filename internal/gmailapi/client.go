package gmailapi

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	gmailapiv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/lu-zhengda/icloud-to-gmail/internal/config"
	"github.com/lu-zhengda/icloud-to-gmail/internal/migerr"
	"github.com/lu-zhengda/icloud-to-gmail/internal/retry"
)

const userID = "me"

// Client wraps a gmail.Service for the narrow surface the migration
// needs: label resolution and message ingestion, following the
// ensureService/service-on-demand shape of termail's gmail.Provider but
// bound to one of the two bulk ingest modes instead of interactive CRUD.
type Client struct {
	cfg     *config.GmailConfig
	oauth   *oauth2.Config
	token   *oauth2.Token
	service *gmailapiv1.Service
	log     *logrus.Entry
	policy  retry.Policy
}

// New builds a Client and eagerly creates the underlying gmail.Service
// from the given token; Import/Insert calls refresh the token
// transparently via the oauth2 TokenSource.
func New(ctx context.Context, cfg *config.GmailConfig, oauthCfg *oauth2.Config, token *oauth2.Token, log *logrus.Entry) (*Client, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	svc, err := gmailapiv1.NewService(ctx, option.WithTokenSource(oauthCfg.TokenSource(ctx, token)))
	if err != nil {
		return nil, migerr.New(migerr.AuthFailed, "create gmail service", err)
	}
	return &Client{
		cfg:     cfg,
		oauth:   oauthCfg,
		token:   token,
		service: svc,
		log:     log.WithField("component", "gmailapi"),
		policy:  retry.Default,
	}, nil
}

// Profile is the smoke-test result of `gmail-auth`: it confirms the token
// actually grants access to a mailbox, and to which one, before `migrate`
// ever runs.
type Profile struct {
	EmailAddress  string
	MessagesTotal int64
	ThreadsTotal  int64
}

// Profile calls users.getProfile, used by `gmail-auth` to confirm the
// token actually grants access to the configured target mailbox rather
// than some other account.
func (c *Client) Profile(ctx context.Context) (Profile, error) {
	profile, err := c.service.Users.GetProfile(userID).Context(ctx).Do()
	if err != nil {
		return Profile{}, migerr.New(migerr.AuthFailed, "get gmail profile", err)
	}
	return Profile{
		EmailAddress:  profile.EmailAddress,
		MessagesTotal: profile.MessagesTotal,
		ThreadsTotal:  profile.ThreadsTotal,
	}, nil
}

// IngestResult carries the remote identifiers Gmail assigns on success.
type IngestResult struct {
	MessageID string
	ThreadID  string
}

// Ingest uploads raw RFC 5322 bytes via users.messages.import or
// users.messages.insert (selected by cfg.Mode), with labelIDs applied.
// Gmail's internalDate source is cfg.InternalDateSource for every message;
// the internalDate argument is only written to the trace log.
func (c *Client) Ingest(ctx context.Context, raw []byte, labelIDs []string, internalDate time.Time) (*IngestResult, error) {
	msg := &gmailapiv1.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		LabelIds: labelIDs,
	}

	var lastErr error
	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay(lastErr, attempt-1)
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		}

		result, err := c.doIngest(ctx, msg, internalDate)
		if err == nil {
			return result, nil
		}
		lastErr = err

		kind, retryable := classify(err)
		if !retryable {
			return nil, migerr.New(kind, "gmail ingest", err)
		}
		c.log.WithError(err).WithField("attempt", attempt).Warn("gmail ingest failed, retrying")
	}
	return nil, migerr.New(migerr.QuotaExceeded, "gmail ingest", fmt.Errorf("exhausted retries: %w", lastErr))
}

func (c *Client) doIngest(ctx context.Context, msg *gmailapiv1.Message, internalDate time.Time) (*IngestResult, error) {
	dateSource := string(c.cfg.InternalDateSource)
	if dateSource == "" {
		dateSource = string(config.DateSourceHeader)
	}
	c.log.WithField("internal_date", internalDate).WithField("source", dateSource).Trace("ingesting message")

	var call interface {
		Do(...googleapi.CallOption) (*gmailapiv1.Message, error)
	}

	switch c.cfg.Mode {
	case config.ModeInsert:
		call = c.service.Users.Messages.Insert(userID, msg).
			InternalDateSource(dateSource).Context(ctx)
	default:
		call = c.service.Users.Messages.Import(userID, msg).
			InternalDateSource(dateSource).
			NeverMarkSpam(true).
			ProcessForCalendar(false).
			Context(ctx)
	}

	sent, err := call.Do()
	if err != nil {
		if refreshErr := c.forceRefreshOn401(ctx, err); refreshErr != nil {
			return nil, refreshErr
		}
		return nil, err
	}
	return &IngestResult{MessageID: sent.Id, ThreadID: sent.ThreadId}, nil
}

// forceRefreshOn401 triggers exactly one forced token refresh when err
// looks like an expired/invalid credential, per spec.md's "a 401 triggers
// one forced refresh before the call is deemed failed." The oauth2
// TokenSource already refreshes transparently on expiry; this only
// matters when the server rejects a token the client still believes is
// valid (clock skew, server-side revocation).
func (c *Client) forceRefreshOn401(ctx context.Context, err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Code != 401 {
		return nil
	}
	c.token.Expiry = time.Now().Add(-time.Minute)
	src := c.oauth.TokenSource(ctx, c.token)
	refreshed, refreshErr := src.Token()
	if refreshErr != nil {
		return migerr.New(migerr.AuthFailed, "force refresh on 401", refreshErr)
	}
	c.token = refreshed
	svc, svcErr := gmailapiv1.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(refreshed)))
	if svcErr != nil {
		return migerr.New(migerr.AuthFailed, "rebuild gmail service after refresh", svcErr)
	}
	c.service = svc
	return nil
}

func (c *Client) retryDelay(err error, attempt int) time.Duration {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if ra := gerr.Header.Get("Retry-After"); ra != "" {
			if secs, parseErr := strconv.Atoi(ra); parseErr == nil {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return c.policy.Delay(attempt)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// classify maps a Gmail API error to an abstract kind and whether the
// pipeline should retry it: 429 and 5xx are transient, 401 is retried as
// AuthFailed (doIngest has already forced a token refresh), and any other
// 4xx is a permanent rejection per spec.md's taxonomy.
func classify(err error) (migerr.Kind, bool) {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return migerr.NetworkTransient, true
	}
	switch {
	case gerr.Code == 429:
		return migerr.QuotaExceeded, true
	case gerr.Code >= 500:
		return migerr.NetworkTransient, true
	case gerr.Code == 401:
		return migerr.AuthFailed, true
	default:
		return migerr.RemoteRejected, false
	}
}
