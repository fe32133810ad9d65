package browser

import "math/rand"

// headerProfile is one coherent browser identity: a user agent plus the
// client-hint headers Chromium would send alongside it. Hints from one
// browser on another browser's user agent is a classic bot fingerprint,
// so profiles are applied whole, never mixed.
type headerProfile struct {
	userAgent       string
	secChUa         string
	secChUaMobile   string
	secChUaPlatform string
}

// Desktop profiles only. The configured board selectors assume desktop
// layouts; most Japanese boards serve mobile user agents a different DOM.
var desktopProfiles = []headerProfile{
	{
		userAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		secChUa:         `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		secChUaMobile:   "?0",
		secChUaPlatform: `"Windows"`,
	},
	{
		userAgent:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		secChUa:         `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		secChUaMobile:   "?0",
		secChUaPlatform: `"macOS"`,
	},
	{
		userAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 Edg/131.0.0.0",
		secChUa:         `"Microsoft Edge";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		secChUaMobile:   "?0",
		secChUaPlatform: `"Windows"`,
	},
	{
		// Safari sends no client hints at all.
		userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.2 Safari/605.1.15",
	},
}

// profileFor picks the identity for a new session. A configured override
// wins outright; otherwise sessions rotate through the profile set so the
// workers of one run don't all present the same fingerprint.
func profileFor(override string) headerProfile {
	if override != "" {
		return headerProfile{userAgent: override}
	}
	return desktopProfiles[rand.Intn(len(desktopProfiles))]
}

// headers builds the extra headers sent on every request of a session.
// Sec-Fetch-* stays with the browser: forcing one value onto every
// request, subresources included, reads as automation.
func (p headerProfile) headers() map[string]string {
	h := map[string]string{
		"Accept-Language": "ja,en-US;q=0.9,en;q=0.8",
	}
	if p.secChUa != "" {
		h["Sec-CH-UA"] = p.secChUa
		h["Sec-CH-UA-Mobile"] = p.secChUaMobile
		h["Sec-CH-UA-Platform"] = p.secChUaPlatform
	}
	return h
}
