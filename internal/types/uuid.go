package types

import (
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/teris-io/shortid"
)

// GenerateUUID returns a k-sortable unique identifier
func GenerateUUID() string {
	return ulid.Make().String()
}

// GenerateUUIDWithPrefix returns a k-sortable unique identifier
// with a prefix ex bal_0ujsswThIGTUYm2K8FjOOfXtY1K
func GenerateUUIDWithPrefix(prefix string) string {
	if prefix == "" {
		return GenerateUUID()
	}
	return fmt.Sprintf("%s_%s", prefix, GenerateUUID())
}

var (
	sidGenerator *shortid.Shortid
	once         sync.Once
)

func initializeSID() {
	var err error
	sidGenerator, err = shortid.New(1, shortid.DefaultABC, 2342)
	if err != nil {
		panic("failed to initialize shortid generator: " + err.Error())
	}
}

// GenerateShortID returns a short, URL-safe random identifier. Used for the
// random suffix of inter-application event IDs.
func GenerateShortID() string {
	once.Do(initializeSID)

	id, err := sidGenerator.Generate()
	if err != nil {
		return ""
	}
	return strings.ReplaceAll(id, "-", "")
}

const (
	UUID_PREFIX_ENTITY              = "ent"
	UUID_PREFIX_CREDIT_BALANCE      = "bal"
	UUID_PREFIX_CREDIT_TRANSACTION  = "ctxn"
	UUID_PREFIX_CREDIT_PURCHASE     = "pur"
	UUID_PREFIX_SEASONAL_ALLOCATION = "alloc"
	UUID_PREFIX_OPERATION_CONFIG    = "opcfg"
	UUID_PREFIX_APPLICATION         = "app"
	UUID_PREFIX_APPLICATION_MODULE  = "mod"
)
