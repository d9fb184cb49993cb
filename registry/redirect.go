package registry

import (
	"crypto/subtle"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hybrasyl/server-sub005/misc/crypto"
	"github.com/hybrasyl/server-sub005/types"
)

// Redirect is a single-use capability letting a new transport resume Session
// under the To role.
type Redirect struct {
	ID      uint32
	Session *types.Session
	From    types.Role
	To      types.Role
	Name    string
	Seed    byte
	Key     []byte
	Created time.Time
}

// Matches requires exact equality of name, seed and every key byte.
func (rd *Redirect) Matches(name string, seed byte, key []byte) bool {
	if rd.Name != name || rd.Seed != seed || len(rd.Key) != len(key) {
		return false
	}
	return subtle.ConstantTimeCompare(rd.Key, key) == 1
}

func (rd *Redirect) String() string {
	return fmt.Sprintf("redirect %d (conn %d, %s -> %s, %q)", rd.ID, rd.Session.ID, rd.From, rd.To, rd.Name)
}

// Broker creates and resolves redirects against a Registry.
type Broker struct {
	reg *Registry
}

func NewBroker(reg *Registry) *Broker {
	return &Broker{reg: reg}
}

// CreateRedirect issues fresh key material for sess and parks it until a
// transport connected to the to role presents it. Earlier redirects owned by
// the session are cancelled.
func (b *Broker) CreateRedirect(sess *types.Session, from, to types.Role, name string) (*Redirect, error) {
	seed, err := crypto.NewSeed()
	if err != nil {
		return nil, fmt.Errorf("redirect seed: %w", err)
	}
	key, err := crypto.NewKey()
	if err != nil {
		return nil, fmt.Errorf("redirect key: %w", err)
	}
	b.reg.CancelRedirectsFor(sess.ID)

	rd := &Redirect{
		ID:      b.reg.nextRedirect.Add(1),
		Session: sess,
		From:    from,
		To:      to,
		Name:    name,
		Seed:    seed,
		Key:     key,
		Created: b.reg.now(),
	}
	b.reg.addRedirect(rd)
	sess.Set(types.SESS_REDIRECTING)

	log.WithFields(log.Fields{
		"conn": sess.ID,
		"id":   rd.ID,
		"from": from.String(),
		"to":   to.String(),
	}).Info("redirect issued")
	return rd, nil
}

// Resolve claims the redirect id for a transport connected to role. On
// success the target session adopts the redirect's key material.
func (b *Broker) Resolve(id uint32, role types.Role, name string, seed byte, key []byte) (*Redirect, error) {
	rd, err := b.reg.claimRedirect(id, role, name, seed, key)
	if err != nil {
		return nil, err
	}
	if _, ok := b.reg.Lookup(rd.Session.ID); !ok {
		return nil, ErrRedirectNotFound
	}
	rd.Session.SetKeys(rd.Seed, rd.Key)
	rd.Session.Clear(types.SESS_REDIRECTING)
	return rd, nil
}
