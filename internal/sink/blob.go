package sink

import (
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// objectKey names one ingest blob: prefix/yyyy/mm/dd/hh/<uuid>.txt[.ext].
func objectKey(prefix string, now time.Time, ext string) string {
	name := uuid.NewString() + ".txt" + ext
	return path.Join(strings.Trim(prefix, "/"), now.UTC().Format("2006/01/02/15"), name)
}

// blobMetadata is attached to every uploaded blob.
func blobMetadata(p Payload) map[string]string {
	return map[string]string{
		"records":      strconv.FormatInt(p.Records, 10),
		"uncompressed": strconv.FormatInt(p.Uncompressed, 10),
		"generator":    "surge",
	}
}
