// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package core

import (
	"decred.org/chandex/client/db/bolt"
	"decred.org/chandex/dex"
	"decred.org/chandex/dex/ws"
)

// Loggers are initialized with no output filters. This means the package will
// not perform any logging by default until the caller requests it.
var (
	log      = dex.Disabled
	commsLog = dex.Disabled
	dispLog  = dex.Disabled
	bookLog  = dex.Disabled
	signLog  = dex.Disabled
)

// DisableLog disables all library log output. Logging output is disabled
// by default until UseLoggerMaker is called.
func DisableLog() {
	log, commsLog, dispLog, bookLog, signLog = dex.Disabled, dex.Disabled, dex.Disabled, dex.Disabled, dex.Disabled
	bolt.UseLogger(dex.Disabled)
	ws.UseLogger(dex.Disabled)
}

// UseLoggerMaker sets the loggers of Core and every subsystem it runs.
func UseLoggerMaker(maker *dex.LoggerMaker) {
	log = maker.Logger("CORE")
	commsLog = maker.Logger("COMMS")
	dispLog = maker.Logger("DISP")
	bookLog = maker.Logger("BOOK")
	signLog = maker.Logger("SIGN")
	bolt.UseLogger(maker.Logger("DB"))
	ws.UseLogger(maker.SubLogger("COMMS", "LINK"))
}
