package engine

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// maxRawDomainLen — длина запасного ключа, если URL не разобрался
const maxRawDomainLen = 64

// DomainFromTarget извлекает hostname из целевого URL действия.
// Хост приводится к нижнему регистру и ASCII (punycode), чтобы "Пример.рф" и
// "xn--e1afmkfd.xn--p1ai" попадали в один ключ. Если URL не разбирается —
// используется обрезанная исходная строка.
func DomainFromTarget(target string) string {
	raw := strings.TrimSpace(target)
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return truncate(raw)
	}

	host := strings.ToLower(u.Hostname())
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	return host
}

func truncate(s string) string {
	if len(s) <= maxRawDomainLen {
		return s
	}
	// Не режем посреди многобайтового символа
	cut := maxRawDomainLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
