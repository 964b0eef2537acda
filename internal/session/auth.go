package session

import (
	"crypto/md5"
	"crypto/rand"
	"sync"

	"github.com/ndmpd/ndmpd/internal/dispatcher"
	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
)

// AuthPolicy is the incoming-connection credential check CONFIG_GET_AUTH_ATTR/
// CONNECT_CLIENT_AUTH enforce, independent of pkg/config so the session
// package doesn't need to import it.
type AuthPolicy struct {
	Username  string
	Password  string
	AllowNone bool
}

const (
	authNone = 0
	authText = 1
	authMD5  = 2
)

// AddAuthHandlers wires CONFIG_GET_AUTH_ATTR and CONNECT_CLIENT_AUTH
// against policy. Both run with OkNotAuthorized, so they are allowed
// before the client has authenticated; by the time either runs, the
// dispatcher's implicit CONNECT_OPEN has already opened the connection.
func AddAuthHandlers(t dispatcher.Table, policy AuthPolicy) {
	challenges := &challengeStore{}

	t[ndmp9.ConfigGetAuthAttr] = dispatcher.Entry{
		Permissions: dispatcher.OkNotAuthorized,
		Handler: func(conn *dispatcher.Connection, reqI interface{}) (interface{}, error) {
			req, ok := reqI.(*ndmp9.ConfigGetAuthAttrRequest)
			if !ok {
				return nil, ndmp9.IllegalArgsErr
			}
			if req.AuthType == authMD5 {
				challenge := make([]byte, 64)
				if _, err := rand.Read(challenge); err != nil {
					return nil, ndmp9.IOErr
				}
				challenges.set(conn, challenge)
				return &ndmp9.ConfigGetAuthAttrReply{AuthType: authMD5, Challenge: challenge}, nil
			}
			return &ndmp9.ConfigGetAuthAttrReply{AuthType: req.AuthType}, nil
		},
	}

	t[ndmp9.ConnectClientAuth] = dispatcher.Entry{
		Permissions: dispatcher.OkNotAuthorized,
		Handler: func(conn *dispatcher.Connection, reqI interface{}) (interface{}, error) {
			req, ok := reqI.(*ndmp9.ConnectClientAuthRequest)
			if !ok {
				return nil, ndmp9.IllegalArgsErr
			}
			if err := policy.validate(req, challenges.get(conn)); err != nil {
				return nil, err
			}
			conn.Authorized = true
			return nil, nil
		},
	}
}

func (p AuthPolicy) validate(req *ndmp9.ConnectClientAuthRequest, challenge []byte) error {
	switch req.AuthType {
	case authNone:
		if !p.AllowNone {
			return ndmp9.NotAuthorizedErr
		}
		return nil
	case authText:
		if req.Username != p.Username || req.Password != p.Password {
			return ndmp9.NotAuthorizedErr
		}
		return nil
	case authMD5:
		if challenge == nil || req.Username != p.Username {
			return ndmp9.NotAuthorizedErr
		}
		sum := md5.Sum(append(append([]byte{}, challenge...), []byte(p.Password)...))
		if len(req.Digest) != len(sum) {
			return ndmp9.NotAuthorizedErr
		}
		for i := range sum {
			if sum[i] != req.Digest[i] {
				return ndmp9.NotAuthorizedErr
			}
		}
		return nil
	default:
		return ndmp9.IllegalArgsErr
	}
}

// challengeStore remembers the MD5 challenge issued to each connection
// between CONFIG_GET_AUTH_ATTR and the CONNECT_CLIENT_AUTH that follows
// it, keyed by the dispatcher.Connection pointer identity.
type challengeStore struct {
	mu sync.Mutex
	m  map[*dispatcher.Connection][]byte
}

func (c *challengeStore) set(conn *dispatcher.Connection, challenge []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = make(map[*dispatcher.Connection][]byte)
	}
	c.m[conn] = challenge
}

func (c *challengeStore) get(conn *dispatcher.Connection) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[conn]
}
