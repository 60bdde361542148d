package local

import (
	"time"

	"golang.org/x/sys/unix"
)

func mtimeOf(st *unix.Stat_t) time.Time {
	return time.Unix(st.Mtim.Unix())
}
