package compare

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quorum/internal/common"
)

func testLogger() arbor.ILogger {
	return common.GetLogger()
}
