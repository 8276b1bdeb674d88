package main

// commands registers every command the server supports.
func (app *application) commands() *Router {
	router := NewRouter()

	// Generic
	router.Handle("PING", app.handlePing)
	router.Handle("INFO", app.handleInfo)
	router.Handle("DEL", app.handleDel)
	router.Handle("EXISTS", app.handleExists)
	router.Handle("MEMORY", app.handleMemory)
	router.Handle("COMPACT", app.handleCompact)

	// Strings. Filter config records are plain values written with SETNX.
	router.Handle("SET", app.handleSet)
	router.Handle("GET", app.handleGet)
	router.Handle("SETNX", app.handleSetNX)

	// Bits
	router.Handle("SETBIT", app.handleSetBit)
	router.Handle("GETBIT", app.handleGetBit)
	router.Handle("BITCOUNT", app.handleBitCount)
	router.Handle("BITS.SET", app.handleBitsSet)
	router.Handle("BITS.GET", app.handleBitsGet)

	// Bloom filters, evaluated server side
	router.Handle("BF.RESERVE", app.handleBFReserve)
	router.Handle("BF.ADD", app.handleBFAdd)
	router.Handle("BF.MADD", app.handleBFMAdd)
	router.Handle("BF.EXISTS", app.handleBFExists)
	router.Handle("BF.MEXISTS", app.handleBFMExists)
	router.Handle("BF.CARD", app.handleBFCard)
	router.Handle("BF.INFO", app.handleBFInfo)

	return router
}
