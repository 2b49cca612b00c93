package enrich

import (
	"time"

	"github.com/miekg/dns"
)

var mxResolvers = []string{"8.8.8.8:53", "1.1.1.1:53"}

// HasMX reports whether the domain publishes at least one MX record.
// Resolvers are tried in order; the first definite answer wins. On
// total resolver failure the domain is given the benefit of the doubt.
func HasMX(domain string) bool {
	if domain == "" {
		return false
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeMX)
	m.RecursionDesired = true

	c := &dns.Client{Timeout: 4 * time.Second}
	for _, resolver := range mxResolvers {
		in, _, err := c.Exchange(m, resolver)
		if err != nil || in == nil {
			continue
		}
		if in.Rcode != dns.RcodeSuccess {
			return false
		}
		for _, ans := range in.Answer {
			if _, ok := ans.(*dns.MX); ok {
				return true
			}
		}
		return false
	}
	return true
}
