package agent

import "time"

// closeWriteWait bounds how long a close control frame write may block.
const closeWriteWait = 5 * time.Second

func deadlineNow() time.Time {
	return time.Now().Add(closeWriteWait)
}
