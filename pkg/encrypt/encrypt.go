package encrypt

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// fingerprintSize 8 bytes is enough to correlate log lines
const fingerprintSize = 8

// Fingerprint 將 token 轉為不可逆的短摘要, 日誌與 dead letter 只記錄摘要
func Fingerprint(token string) string {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return ""
	}
	h, err := blake2b.New(fingerprintSize, nil)
	if err != nil {
		// 只有 size 不合法才會發生
		panic(err)
	}
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))
}
