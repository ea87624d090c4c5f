package tokenizer

import (
	"strings"
	"testing"
)

var sampleTexts = map[string]string{
	"short": "VPN keeps disconnecting after the laptop wakes from sleep",
	"medium": `Reconnect the VPN client and check the tunnel status in the tray icon.
        If the tunnel drops every few minutes, the gateway idle timeout is usually
        shorter than the client keepalive. Raise the keepalive or ask the network
        team to extend the timeout for remote-access profiles.`,
	"long": strings.Repeat(`Password resets go through the self-service portal. After a reset,
        cached credentials on mobile devices and mapped drives keep retrying the old
        password and trigger account lockouts. Clear saved credentials, sign out of
        mail clients and re-enrol MFA when the authenticator shows stale codes. `, 20),
}

func BenchmarkTokenize(b *testing.B) {
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_ = Tokenize(text)
			}
		})
	}
}

func BenchmarkTokenizeParallel(b *testing.B) {
	text := sampleTexts["medium"]
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = Tokenize(text)
		}
	})
}

func BenchmarkQueryTerms(b *testing.B) {
	keywords := []string{"vpn", "tunnel", "gateway", "keepalive", "VPN"}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = QueryTerms("vpn tunnel drops every few minutes", keywords)
	}
}
