package audit

import (
	"net"
	"net/http"
	"strings"
)

// FromRequest starts an entry for an action taken through the HTTP API. The caller
// fills in the tenant and actor; request-derived fields and the metadata digest are set here.
func FromRequest(r *http.Request, resourceType, resourceID, action string, metadata any) Entry {
	payload := Metadata(metadata)
	entry := Entry{
		Action:        action,
		ResourceType:  resourceType,
		ResourceID:    resourceID,
		Metadata:      payload,
		PayloadDigest: DigestJSON(payload),
	}
	if r != nil {
		entry.IP = ClientIP(r)
		entry.UserAgent = r.UserAgent()
	}
	return entry
}

// ClientIP returns the originating address: the first valid X-Forwarded-For hop,
// then X-Real-IP, then the connection peer.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if ip := net.ParseIP(strings.TrimSpace(hop)); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
