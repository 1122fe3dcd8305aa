package ratelimit

import (
	"context"
	"strings"

	"github.com/pattcore/faceit-ai-bot-sub000/internal/httpmw"
	"github.com/pattcore/faceit-ai-bot-sub000/internal/xerrors"
)

// Kind tags what an identity value denotes.
type Kind string

const (
	KindIP   Kind = "ip"
	KindUser Kind = "user"
)

// ParseKind validates a kind string from an admin request path.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.TrimSpace(s)) {
	case KindIP:
		return KindIP, nil
	case KindUser:
		return KindUser, nil
	}
	return "", xerrors.Newf("unknown identity kind %q (must be ip or user)", s)
}

// Identity is a rate-limit subject: an IP address or an authenticated user
// id. Values are case-sensitive and trimmed, nothing more.
type Identity struct {
	Kind  Kind
	Value string
}

func NewIdentity(kind Kind, value string) Identity {
	return Identity{Kind: kind, Value: strings.TrimSpace(value)}
}

// Key is the store key fragment for this identity, e.g. "ip:203.0.113.9".
func (id Identity) Key() string { return string(id.Kind) + ":" + id.Value }

func (id Identity) String() string { return id.Key() }

// ClassifyContext derives the identities to check for a request. The IP
// identity is always present (resolved by the client-IP middleware); a user
// identity is appended when the auth layer attached a principal. Both are
// counted independently.
func ClassifyContext(ctx context.Context) []Identity {
	ids := make([]Identity, 0, 2)

	ip := strings.TrimSpace(httpmw.ClientIPFromContext(ctx))
	if ip == "" {
		ip = "0.0.0.0"
	}
	ids = append(ids, Identity{Kind: KindIP, Value: ip})

	if user := strings.TrimSpace(httpmw.UserIDFromContext(ctx)); user != "" {
		ids = append(ids, Identity{Kind: KindUser, Value: user})
	}

	return ids
}
