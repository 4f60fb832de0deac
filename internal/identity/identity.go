// Package identity supplies outbound-request identities (header sets plus
// optional proxy metadata) from a bounded local pool blended with a shared
// external store under a tunable rotation rate.
package identity

// Proxy describes one proxy endpoint with its verification metadata.
type Proxy struct {
	IP           string `json:"ip"`
	Port         uint16 `json:"port"`
	Country      string `json:"country"`
	Anonymity    string `json:"anonymity"`
	Google       bool   `json:"google"`
	HTTPS        bool   `json:"https"`
	LastChecked  string `json:"last_checked"`
	ProxyType    string `json:"proxy_type"`
	ResponseTime string `json:"response_time"`
	Uptime       string `json:"uptime"`
	Verified     bool   `json:"verified"`
	Source       string `json:"source"`
}

// Identity is one reusable bundle of outbound HTTP request metadata.
// Identities are fungible: they have no owner and move freely between the
// local pool and the shared store.
type Identity struct {
	UserAgent               string `json:"user_agent"`
	Accept                  string `json:"accept"`
	AcceptLanguage          string `json:"accept_language"`
	AcceptEncoding          string `json:"accept_encoding"`
	Referer                 string `json:"referer"`
	Cookie                  string `json:"cookie"`
	DNT                     string `json:"dnt"`
	UpgradeInsecureRequests string `json:"upgrade_insecure_requests"`
	CacheControl            string `json:"cache_control"`
	Proxy                   *Proxy `json:"proxy,omitempty"`
}
