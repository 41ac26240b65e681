package maintenance

import (
	"errors"

	"github.com/miradorstack/mirador-autoops/internal/utils"
)

func isInsufficientData(err error) bool {
	return errors.Is(err, utils.ErrInsufficientData)
}
