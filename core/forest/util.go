package forest

import (
	"fmt"
	"strconv"
)

func itoa(i int) string { return strconv.Itoa(i) }

func hexWord(w uint32) string { return fmt.Sprintf("0x%08x", w) }
