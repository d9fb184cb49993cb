package main

import (
	"context"
	"sync"
)

// Global variables
var (
	wg   sync.WaitGroup
	stop context.CancelFunc // cancels the root context, see sig_handler
)

// PACKET_LIMIT bounds the body of a single frame
const PACKET_LIMIT = 16384
