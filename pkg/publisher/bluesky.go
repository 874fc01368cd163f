package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	appbsky "github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/atproto/syntax"
	lexutil "github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"
	"github.com/sirupsen/logrus"

	"github.com/cpunion/quote-bot/pkg/types"
)

const (
	postCollection = "app.bsky.feed.post"
	appViewURL     = "https://bsky.app"
)

// BlueskyConfig configures a Bluesky publisher.
type BlueskyConfig struct {
	Host        string
	Handle      string
	AppPassword string
	HTTPClient  *http.Client
	Logger      logrus.FieldLogger
}

// Bluesky posts to a PDS over XRPC with a password session.
type Bluesky struct {
	handle   string
	password string
	logger   logrus.FieldLogger

	mu     sync.Mutex
	client *xrpc.Client
}

var _ Publisher = (*Bluesky)(nil)

// NewBluesky creates a Bluesky publisher. It does not log in; call Login or
// let the first Publish do it.
func NewBluesky(cfg BlueskyConfig) *Bluesky {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bluesky{
		handle:   cfg.Handle,
		password: cfg.AppPassword,
		logger:   logger.WithField("platform", types.PlatformBluesky),
		client: &xrpc.Client{
			Client: cfg.HTTPClient,
			Host:   strings.TrimRight(cfg.Host, "/"),
		},
	}
}

func (b *Bluesky) Platform() types.Platform { return types.PlatformBluesky }

// Login creates a new session.
func (b *Bluesky) Login(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loginLocked(ctx)
}

func (b *Bluesky) loginLocked(ctx context.Context) error {
	b.client.Auth = nil
	ses, err := comatproto.ServerCreateSession(ctx, b.client, &comatproto.ServerCreateSession_Input{
		Identifier: b.handle,
		Password:   b.password,
	})
	if err != nil {
		return fmt.Errorf("bluesky login as %s: %w", b.handle, wrapXRPC(err))
	}
	b.client.Auth = &xrpc.AuthInfo{
		AccessJwt:  ses.AccessJwt,
		RefreshJwt: ses.RefreshJwt,
		Handle:     ses.Handle,
		Did:        ses.Did,
	}
	b.logger.WithField("did", ses.Did).Info("Logged in to Bluesky")
	return nil
}

// Verify logs in, which proves the handle and app password are valid.
func (b *Bluesky) Verify(ctx context.Context) error {
	return b.Login(ctx)
}

// Publish creates a post record. An expired or rejected session is replaced
// once before giving up. The record key is fixed per call, so a create that
// the PDS committed before the transport saw an error is found again instead
// of being posted twice.
func (b *Bluesky) Publish(ctx context.Context, text string) (*types.PostRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client.Auth == nil {
		if err := b.loginLocked(ctx); err != nil {
			return nil, err
		}
	}

	rkey := syntax.NewTIDNow(0).String()
	ref, err := b.createPost(ctx, rkey, text)
	if err != nil && sessionExpired(err) {
		b.logger.WithError(err).Warn("Bluesky session rejected, logging in again")
		if lerr := b.loginLocked(ctx); lerr != nil {
			return nil, lerr
		}
		ref, err = b.createPost(ctx, rkey, text)
	}
	if err != nil {
		if existing, ok := b.committed(ctx, rkey); ok {
			b.logger.WithError(err).WithField("rkey", rkey).Warn("Create failed but the post exists")
			return existing, nil
		}
		return nil, fmt.Errorf("bluesky create post: %w", wrapXRPC(err))
	}
	return ref, nil
}

func (b *Bluesky) createPost(ctx context.Context, rkey, text string) (*types.PostRef, error) {
	post := appbsky.FeedPost{
		Text:      text,
		CreatedAt: syntax.DatetimeNow().String(),
		Langs:     []string{"en"},
		Facets:    LinkFacets(text),
	}
	out, err := comatproto.RepoCreateRecord(ctx, b.client, &comatproto.RepoCreateRecord_Input{
		Collection: postCollection,
		Repo:       b.client.Auth.Did,
		Rkey:       &rkey,
		Record:     &lexutil.LexiconTypeDecoder{Val: &post},
	})
	if err != nil {
		return nil, err
	}
	return &types.PostRef{
		ID:  out.Uri,
		CID: out.Cid,
		URL: PostURL(out.Uri),
	}, nil
}

// committed looks up the post stored under rkey.
func (b *Bluesky) committed(ctx context.Context, rkey string) (*types.PostRef, bool) {
	if b.client.Auth == nil {
		return nil, false
	}
	out, err := comatproto.RepoGetRecord(ctx, b.client, "", postCollection, b.client.Auth.Did, rkey)
	if err != nil || out.Uri == "" {
		return nil, false
	}
	return &types.PostRef{
		ID:  out.Uri,
		CID: cidString(out.Cid),
		URL: PostURL(out.Uri),
	}, true
}

// cidString accepts the optional and plain CID forms of lexicon outputs.
func cidString(v any) string {
	switch c := v.(type) {
	case string:
		return c
	case *string:
		if c != nil {
			return *c
		}
	}
	return ""
}

// sessionExpired reports whether the PDS rejected the access token.
func sessionExpired(err error) bool {
	var xerr *xrpc.Error
	if !errors.As(err, &xerr) {
		return false
	}
	if xerr.StatusCode == http.StatusUnauthorized {
		return true
	}
	var body *xrpc.XRPCError
	if errors.As(xerr.Wrapped, &body) {
		return body.ErrStr == "ExpiredToken" || body.ErrStr == "InvalidToken"
	}
	return false
}

// wrapXRPC converts XRPC status errors into APIError.
func wrapXRPC(err error) error {
	var xerr *xrpc.Error
	if !errors.As(err, &xerr) {
		return err
	}
	detail := ""
	var body *xrpc.XRPCError
	if errors.As(xerr.Wrapped, &body) {
		detail = body.Error()
	} else if xerr.Wrapped != nil {
		detail = xerr.Wrapped.Error()
	}
	return &APIError{Platform: types.PlatformBluesky, StatusCode: xerr.StatusCode, Detail: detail}
}

// PostURL maps at://<did>/app.bsky.feed.post/<rkey> to its bsky.app page.
// Other URIs are returned unchanged.
func PostURL(uri string) string {
	parts := strings.Split(strings.TrimPrefix(uri, "at://"), "/")
	if !strings.HasPrefix(uri, "at://") || len(parts) != 3 || parts[1] != postCollection {
		return uri
	}
	return fmt.Sprintf("%s/profile/%s/post/%s", appViewURL, parts[0], parts[2])
}

var linkPattern = regexp.MustCompile(`https?://[^\s<>"]+`)

const trailingPunct = ".,;:!?)'’”"

// LinkFacets returns link facets for every http(s) URL in text, indexed by
// UTF-8 byte offsets. Trailing sentence punctuation is not part of a link.
func LinkFacets(text string) []*appbsky.RichtextFacet {
	var facets []*appbsky.RichtextFacet
	for _, loc := range linkPattern.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		for end > start {
			r, size := utf8.DecodeLastRuneInString(text[start:end])
			if !strings.ContainsRune(trailingPunct, r) {
				break
			}
			end -= size
		}
		uri := text[start:end]
		if uri == "http://" || uri == "https://" || !strings.Contains(uri, "://") {
			continue
		}
		facets = append(facets, &appbsky.RichtextFacet{
			Features: []*appbsky.RichtextFacet_Features_Elem{{
				RichtextFacet_Link: &appbsky.RichtextFacet_Link{Uri: uri},
			}},
			Index: &appbsky.RichtextFacet_ByteSlice{
				ByteStart: int64(start),
				ByteEnd:   int64(end),
			},
		})
	}
	return facets
}
