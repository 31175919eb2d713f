package account

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/joshwilsdon-forks/sdc-amon/internal/cache"
	"github.com/joshwilsdon-forks/sdc-amon/internal/directory"
	"github.com/joshwilsdon-forks/sdc-amon/pkg/logger"
)

// loginRe matches valid logins: a leading letter followed by letters,
// digits, '_', '.' or '@'. Minimum total length two.
var loginRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.@]+$`)

// ValidLogin reports whether s is a syntactically valid login.
func ValidLogin(s string) bool {
	return loginRe.MatchString(s)
}

// result is what the resolver memoizes: the user, or the miss, or the
// lookup error. Caching errors prevents lookup stampedes on a flaky
// directory.
type result struct {
	user *User
	err  error
}

// Resolver resolves a user from a UUID or a login, memoized in a single
// cache keyed by both.
type Resolver struct {
	dir   directory.Directory
	cache *cache.Cache
	log   *logger.Logger
}

// NewResolver builds a resolver over dir, memoizing in c.
func NewResolver(dir directory.Directory, c *cache.Cache, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.NewDefault("account")
	}
	return &Resolver{dir: dir, cache: c, log: log}
}

// Resolve looks up a user by UUID or login. Returns (nil, nil) when no
// such user exists and (nil, err) when the lookup itself failed. Malformed
// identifiers are rejected without a directory round trip.
func (r *Resolver) Resolve(ctx context.Context, userID string) (*User, error) {
	userID = strings.TrimSpace(userID)
	_, uuidErr := uuid.Parse(userID)
	isUUID := uuidErr == nil
	if !isUUID && !ValidLogin(userID) {
		return nil, nil
	}

	if cached, ok := r.cache.Get(userID); ok {
		res := cached.(result)
		return res.user, res.err
	}

	user, err := r.lookup(ctx, userID, isUUID)
	if err != nil {
		// Cache the failure under the supplied key only.
		r.cache.Set(userID, result{err: err})
		return nil, err
	}
	if user == nil {
		r.cache.Set(userID, result{})
		return nil, nil
	}

	// A successful lookup populates both keys.
	r.cache.Set(user.UUID, result{user: user})
	r.cache.Set(user.Login, result{user: user})
	return user, nil
}

func (r *Resolver) lookup(ctx context.Context, userID string, isUUID bool) (*User, error) {
	var entry *directory.Entry
	var err error
	if isUUID {
		entry, err = r.dir.Get(ctx, directory.UserDN(userID))
	} else {
		filter := fmt.Sprintf("(&(objectclass=%s)(login=%s))", directory.ObjectClassUser, ldapEscape(userID))
		var entries []*directory.Entry
		entries, err = r.dir.Search(ctx, directory.UsersBaseDN, filter, directory.ScopeSub)
		if err == nil {
			if len(entries) == 0 {
				return nil, nil
			}
			entry = entries[0]
		}
	}
	if errors.Is(err, directory.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.WithError(err).WithField("user", userID).Error("user lookup failed")
		return nil, err
	}

	user := UserFromEntry(entry)
	op, err := r.isOperator(ctx, user.UUID)
	if err != nil {
		r.log.WithError(err).WithField("user", user.UUID).Error("operator lookup failed")
		return nil, err
	}
	user.Operator = op
	return user, nil
}

// isOperator checks membership of the privileged operators group.
func (r *Resolver) isOperator(ctx context.Context, userUUID string) (bool, error) {
	entry, err := r.dir.Get(ctx, directory.OperatorsDN)
	if errors.Is(err, directory.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	userDN := directory.UserDN(userUUID)
	for _, member := range entry.Attributes["uniquemember"] {
		if normalizeDN(member) == normalizeDN(userDN) {
			return true, nil
		}
	}
	return false, nil
}

func normalizeDN(dn string) string {
	parts := strings.Split(dn, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return strings.ToLower(strings.Join(parts, ","))
}

// ldapEscape escapes filter metacharacters per RFC 4515. Logins are
// already letter-leading, but the login comes off the wire.
func ldapEscape(s string) string {
	repl := strings.NewReplacer(
		`\`, `\5c`,
		`*`, `\2a`,
		`(`, `\28`,
		`)`, `\29`,
		"\x00", `\00`,
	)
	return repl.Replace(s)
}
