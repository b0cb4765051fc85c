package detour

import "golang.org/x/sys/unix"

// Keep copies in the low 2GiB, next to the text segment, so relocated
// CALL rel32 instructions still reach their targets.
const mapFlags = unix.MAP_32BIT
