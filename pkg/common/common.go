package common

import (
	"crypto/sha256"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
)

const (
	ENABLED  = "enabled"
	DISABLED = "disabled"
)

var (
	snowflakeNode *snowflake.Node
	snowflakeOnce sync.Once
)

// UUIDint64 returns a snowflake-based int64 identifier.
func UUIDint64() int64 {
	snowflakeOnce.Do(func() {
		var err error
		snowflakeNode, err = snowflake.NewNode(1)
		if err != nil {
			panic(err)
		}
	})
	return snowflakeNode.Generate().Int64()
}

// UUID returns the string form of UUIDint64.
func UUID() string {
	return fmt.Sprintf("%d", UUIDint64())
}

// GetSecretSalt reads the process secret salt, falling back to a static default.
func GetSecretSalt() string {
	salt := os.Getenv("WHATSDESK_SECRET")
	if salt == "" {
		salt = "whatsdesk-secret"
	}
	return salt
}

// Sha256HashWithSalt hashes src with the given salt.
func Sha256HashWithSalt(src, salt string) string {
	h := sha256.New()
	h.Write([]byte(src + salt))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// IsEmptyOrNA reports whether the value carries no usable content.
func IsEmptyOrNA(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, "n/a")
}

// IfEmptyStr returns defval when v is blank.
func IfEmptyStr(v, defval string) string {
	if strings.TrimSpace(v) == "" {
		return defval
	}
	return v
}
