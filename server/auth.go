package server

import (
	"net/http"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Permissions gating the API. Read-only endpoints need PermissionStatus,
// triggering a check needs PermissionCheck, anything that changes the system
// needs PermissionApply.
const (
	PermissionStatus = "status"
	PermissionCheck  = "check"
	PermissionApply  = "apply"
)

// AccessKey grants one caller a key and the permissions it carries.
type AccessKey struct {
	Key         string
	Permissions []string
}

type accessKeyInfo struct {
	id          string
	permissions map[string]struct{}
}

// apiAuth resolves the caller's API key to its granted permissions. Keys come
// from the daemon config; with none configured a single full-access key is
// generated and logged so a fresh install stays reachable.
type apiAuth struct {
	keys map[string]accessKeyInfo
}

func newAPIAuth(configured map[string]AccessKey) *apiAuth {
	a := &apiAuth{keys: make(map[string]accessKeyInfo)}

	for id, access := range configured {
		if access.Key == "" {
			log.Warnf("ignoring API key entry %q without a key", id)
			continue
		}
		permissions := make(map[string]struct{})
		for _, permission := range access.Permissions {
			permissions[permission] = struct{}{}
		}
		if len(permissions) == 0 {
			permissions[PermissionStatus] = struct{}{}
		}
		a.keys[access.Key] = accessKeyInfo{id: id, permissions: permissions}
	}

	if len(a.keys) == 0 {
		generated := uuid.New().String()
		a.keys[generated] = accessKeyInfo{
			id: "default",
			permissions: map[string]struct{}{
				PermissionStatus: {},
				PermissionCheck:  {},
				PermissionApply:  {},
			},
		}
		log.Warnf("no API keys configured, generated default key %s", generated)
	}

	return a
}

// require wraps a handler so it only runs when the request carries a known
// API key holding the permission. The key comes from the X-API-Key header or,
// for websocket clients that cannot set headers, the api_key query parameter.
func (a *apiAuth) require(permission string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}

		info, ok := a.keys[key]
		if !ok {
			log.Warnf("rejected %s %s: invalid API key from %s", r.Method, r.URL.Path, r.RemoteAddr)
			writeErrorResponse("invalid API key", http.StatusUnauthorized, w)
			return
		}
		if _, ok := info.permissions[permission]; !ok {
			log.Warnf("rejected %s %s: key %s lacks the %q permission", r.Method, r.URL.Path, info.id, permission)
			writeErrorResponse("insufficient permissions", http.StatusForbidden, w)
			return
		}

		next(w, r)
	}
}
