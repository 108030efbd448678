// Package imappool maintains a bounded pool of authenticated IMAP
// sessions and the UID-based discovery protocol the pipeline drives it
// with, following the Connect/Select/Fetch idiom of
// nam-hle-task-management's email client but generalized into a reusable
// pool with retrying acquisition instead of a dial-per-call client.
package imappool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/sirupsen/logrus"

	"github.com/lu-zhengda/icloud-to-gmail/internal/config"
	"github.com/lu-zhengda/icloud-to-gmail/internal/mailheader"
	"github.com/lu-zhengda/icloud-to-gmail/internal/migerr"
	"github.com/lu-zhengda/icloud-to-gmail/internal/retry"
)

// Pool owns up to cfg.Connections authenticated IMAP sessions, handed out
// for the duration of a mailbox selection plus a search or fetch batch.
type Pool struct {
	cfg    *config.IMAPConfig
	log    *logrus.Entry
	policy retry.Policy

	mu    sync.Mutex
	idle  []*imapclient.Client
	count int
}

// New builds a pool. No connections are opened until Acquire is called.
func New(cfg *config.IMAPConfig, log *logrus.Entry) *Pool {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Pool{cfg: cfg, log: log.WithField("component", "imappool"), policy: retry.Default}
}

// Close logs out and closes every idle connection currently in the pool.
// Sessions on loan are not closed here; a later Release puts them back on
// the idle list.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.idle {
		_ = c.Logout().Wait()
		_ = c.Close()
	}
	p.idle = nil
}

// Session is a leased IMAP connection with a selected mailbox.
type Session struct {
	pool        *Pool
	client      *imapclient.Client
	Folder      string
	UIDValidity uint32
}

// Select acquires a connection from the pool (dialing and authenticating
// a fresh one if fewer than cfg.Connections exist and the idle list is
// empty, otherwise reusing the most recently released idle one) and
// SELECTs folder.
func (p *Pool) Select(ctx context.Context, folder string) (*Session, error) {
	client, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}

	data, err := client.Select(folder, nil).Wait()
	if err != nil {
		p.discard(client)
		return nil, migerr.New(migerr.IMAPProtocol, "select "+folder, err)
	}

	return &Session{pool: p, client: client, Folder: folder, UIDValidity: data.UIDValidity}, nil
}

// Release returns the session's connection to the pool for reuse.
func (s *Session) Release() {
	s.pool.release(s.client)
}

// Discard closes the session's connection instead of returning it to the
// pool, used after a protocol error that leaves the connection's state
// unreliable.
func (s *Session) Discard() {
	s.pool.discard(s.client)
}

func (p *Pool) acquire(ctx context.Context) (*imapclient.Client, error) {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return c, nil
	}
	if p.count >= p.cfg.Connections {
		p.mu.Unlock()
		// Pool is fully checked out; the caller's own concurrency bound
		// (imap_fetch_concurrency) is expected to keep this rare. Poll the
		// idle list every 50ms, failing after about 200 polls.
		return p.waitAndAcquire(ctx)
	}
	p.count++
	p.mu.Unlock()

	client, err := p.dial(ctx)
	if err != nil {
		p.mu.Lock()
		p.count--
		p.mu.Unlock()
		return nil, err
	}
	return client, nil
}

func (p *Pool) waitAndAcquire(ctx context.Context) (*imapclient.Client, error) {
	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
		p.mu.Lock()
		if n := len(p.idle); n > 0 {
			c := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.mu.Unlock()
			return c, nil
		}
		p.mu.Unlock()
		if attempt > 200 {
			return nil, migerr.New(migerr.IMAPProtocol, "acquire connection", fmt.Errorf("timed out waiting for a free IMAP session"))
		}
	}
}

func (p *Pool) release(c *imapclient.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idle = append(p.idle, c)
}

func (p *Pool) discard(c *imapclient.Client) {
	_ = c.Logout().Wait()
	_ = c.Close()
	p.mu.Lock()
	p.count--
	p.mu.Unlock()
}

func (p *Pool) dial(ctx context.Context) (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	var lastErr error
	for attempt := 0; attempt <= p.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := p.policy.Sleep(ctx, attempt-1); err != nil {
				return nil, err
			}
		}

		var client *imapclient.Client
		var err error
		if p.cfg.SSL {
			client, err = imapclient.DialTLS(addr, nil)
		} else {
			client, err = imapclient.DialStartTLS(addr, nil)
		}
		if err != nil {
			lastErr = err
			p.log.WithError(err).WithField("attempt", attempt).Warn("imap dial failed, retrying")
			continue
		}

		if err := client.Login(p.cfg.Username, p.cfg.AppPassword).Wait(); err != nil {
			_ = client.Close()
			return nil, migerr.New(migerr.AuthFailed, "imap login", err)
		}
		return client, nil
	}
	return nil, migerr.New(migerr.NetworkTransient, "dial "+addr, lastErr)
}

// HeaderFetch is the result of the envelope-only first pass used to
// enumerate a batch's UIDs and give the discovery loop something cheap to
// iterate over before each UID's full body is fetched.
type HeaderFetch struct {
	UID       imap.UID
	Headers   *mailheader.Headers
	RawHeader []byte
	Size      int64
}

// SearchUIDs resolves query, intersected with UID > minUID, to a sorted
// UID set.
func (s *Session) SearchUIDs(ctx context.Context, query string, minUID imap.UID) ([]imap.UID, error) {
	criteria := parseSearchQuery(query)
	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, migerr.New(migerr.IMAPProtocol, "uid search", err)
	}

	all := data.AllUIDs()
	out := make([]imap.UID, 0, len(all))
	for _, uid := range all {
		if uid > minUID {
			out = append(out, uid)
		}
	}
	return out, nil
}

// FetchHeaders issues a single UID FETCH for the header section and
// RFC822 size of every uid in the batch, without touching the body.
func (s *Session) FetchHeaders(ctx context.Context, uids []imap.UID) ([]HeaderFetch, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	uidSet := imap.UIDSetNum(uids...)
	headerSection := &imap.FetchItemBodySection{Specifier: imap.PartSpecifierHeader, Peek: true}
	opts := &imap.FetchOptions{
		UID:         true,
		RFC822Size:  true,
		BodySection: []*imap.FetchItemBodySection{headerSection},
	}

	cmd := s.client.Fetch(uidSet, opts)
	defer cmd.Close()

	var out []HeaderFetch
	for {
		msg := cmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			return out, migerr.New(migerr.IMAPProtocol, "collect header fetch", err)
		}
		raw := buf.FindBodySection(headerSection)
		h, err := mailheader.Parse(raw)
		if err != nil {
			h = &mailheader.Headers{}
		}
		out = append(out, HeaderFetch{UID: buf.UID, Headers: h, RawHeader: raw, Size: buf.RFC822Size})
	}
	if err := cmd.Close(); err != nil {
		return out, migerr.New(migerr.IMAPProtocol, "fetch headers", err)
	}
	return out, nil
}

// FetchBody returns the verbatim raw RFC 5322 bytes (BODY.PEEK[], the
// whole message) for a single UID, never setting \Seen.
func (s *Session) FetchBody(ctx context.Context, uid imap.UID) ([]byte, error) {
	uidSet := imap.UIDSetNum(uid)
	fullSection := &imap.FetchItemBodySection{Peek: true}
	opts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{fullSection},
	}

	cmd := s.client.Fetch(uidSet, opts)
	defer cmd.Close()

	msg := cmd.Next()
	if msg == nil {
		return nil, migerr.New(migerr.IMAPProtocol, "fetch body", fmt.Errorf("uid %d not found", uid))
	}
	buf, err := msg.Collect()
	if err != nil {
		return nil, migerr.New(migerr.IMAPProtocol, "collect body fetch", err)
	}
	raw := buf.FindBodySection(fullSection)
	if err := cmd.Close(); err != nil {
		return raw, migerr.New(migerr.IMAPProtocol, "fetch body", err)
	}
	return raw, nil
}

// ListFolders enumerates every mailbox on the server.
func (s *Session) ListFolders(ctx context.Context) ([]string, error) {
	cmd := s.client.List("", "*", nil)
	mailboxes, err := cmd.Collect()
	if err != nil {
		return nil, migerr.New(migerr.IMAPProtocol, "list mailboxes", err)
	}
	out := make([]string, 0, len(mailboxes))
	for _, m := range mailboxes {
		out = append(out, m.Mailbox)
	}
	return out, nil
}

// parseSearchQuery supports the small subset spec.md's SEARCH_QUERY
// option needs: the literal "ALL", or it is passed through as a raw IMAP
// SEARCH text criterion.
func parseSearchQuery(query string) *imap.SearchCriteria {
	if query == "" || query == "ALL" {
		return &imap.SearchCriteria{}
	}
	return &imap.SearchCriteria{Text: []string{query}}
}
