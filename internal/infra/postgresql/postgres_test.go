package postgresql

import (
	"testing"
	"time"
)

func TestPoolOptionsWithDefaults(t *testing.T) {
	t.Parallel()

	got := PoolOptions{}.withDefaults()
	if got.MaxOpenConns != 25 || got.MaxIdleConns != 5 || got.ConnMaxLifetime != time.Hour {
		t.Fatalf("withDefaults() = %+v", got)
	}

	custom := PoolOptions{MaxOpenConns: 4, MaxIdleConns: 2, ConnMaxLifetime: time.Minute}.withDefaults()
	if custom.MaxOpenConns != 4 || custom.MaxIdleConns != 2 || custom.ConnMaxLifetime != time.Minute {
		t.Fatalf("withDefaults() overrode explicit values: %+v", custom)
	}
}
