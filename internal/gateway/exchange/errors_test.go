package exchange

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfUnwrapsWrappedErrors(t *testing.T) {
	base := Errorf(KindRejected, "submit_order", "insufficient balance")
	wrapped := fmt.Errorf("run: %w", base)

	assert.Equal(t, KindRejected, KindOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Contains(t, wrapped.Error(), "rejected")
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(KindNetwork, "fetch", nil))
	err := Wrap(KindNetwork, "fetch", errors.New("timeout"))
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.Equal(t, "network", KindNetwork.String())
}
