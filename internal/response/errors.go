package response

import (
	"errors"

	"github.com/miradorstack/mirador-autoops/internal/utils"
)

func isNotFound(err error) bool {
	return errors.Is(err, utils.ErrUnknownEntity)
}
