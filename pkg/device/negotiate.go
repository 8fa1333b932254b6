package device

import (
	"github.com/jingkaihe/virtiofs-guest/internal/errx"
	"github.com/jingkaihe/virtiofs-guest/pkg/logging"
	"github.com/jingkaihe/virtiofs-guest/pkg/transport"
	"github.com/jingkaihe/virtiofs-guest/pkg/wire"
)

// Negotiate returns the effective feature mask: the intersection of the
// driver's declared flags and the host's offered flags. The result is
// independent of how either 64-bit value was split across the wire's
// flags/flags2 fields.
func Negotiate(driverFlags, hostFlags uint64) uint64 {
	return driverFlags & hostFlags
}

// handleInitOut validates the host's INIT response and publishes the
// negotiated feature mask. Called from the completion dispatcher; on
// failure negotiated keeps its pre-INIT value (the driver's declared set)
// and the session is rejected.
func (d *Device) handleInitOut(out wire.FuseInitOut) error {
	hostFlags := wire.JoinFlags(out.Flags, out.Flags2)

	fail := func(err error) error {
		d.initMu.Lock()
		d.initErr = err
		d.initMu.Unlock()
		d.logger.Error("INIT rejected",
			"session_id", d.SessionID,
			"host_major", out.Major,
			"host_minor", out.Minor,
			"error", err)
		if d.emitter != nil {
			_ = d.emitter.Emit(logging.EventFeatureNegotiate, "session rejected", "request-0", nil, &logging.FeatureNegotiateData{
				DriverMajor:  wire.KernelVersion,
				DriverMinor:  wire.KernelMinorVersion,
				HostMajor:    out.Major,
				HostMinor:    out.Minor,
				SessionValid: false,
			})
		}
		return err
	}

	if out.Major != wire.KernelVersion {
		return fail(errx.With(ErrProtocol, ": host protocol major %d, driver requires %d", out.Major, wire.KernelVersion))
	}
	if out.Minor < wire.MinKernelMinor {
		return fail(errx.With(ErrProtocol, ": host protocol minor %d below driver minimum %d", out.Minor, wire.MinKernelMinor))
	}

	// A host minor above the driver's is fine; the driver's minor is
	// authoritative for the session.
	minor := out.Minor
	if minor > wire.KernelMinorVersion {
		minor = wire.KernelMinorVersion
	}

	negotiated := Negotiate(d.driverFlags, hostFlags)

	// The one post-attach store; readers everywhere use atomic loads.
	d.negotiated.Store(negotiated)
	d.effectiveMinor.Store(minor)
	d.initDone.Store(true)

	d.logger.Info("INIT negotiated",
		"session_id", d.SessionID,
		"host_major", out.Major,
		"host_minor", out.Minor,
		"effective_minor", minor,
		"negotiated_flags", negotiated,
		"max_write", out.MaxWrite,
		"max_pages", out.MaxPages)
	if d.emitter != nil {
		_ = d.emitter.Emit(logging.EventFeatureNegotiate, "session accepted", "request-0", nil, &logging.FeatureNegotiateData{
			DriverMajor:  wire.KernelVersion,
			DriverMinor:  wire.KernelMinorVersion,
			HostMajor:    out.Major,
			HostMinor:    out.Minor,
			Negotiated:   negotiated,
			SessionValid: true,
		})
	}
	return nil
}

// AwaitInit busy-spins until the INIT exchange concludes, driving the
// transport's explicit delivery hook when it has one. Only for diagnostic
// bring-up before interrupt delivery is live; the production path returns
// from Attach immediately and observes INIT completion asynchronously.
func (d *Device) AwaitInit(maxSpins int) error {
	deliverer, _ := d.transport.(transport.Deliverer)
	for i := 0; i < maxSpins; i++ {
		if d.initDone.Load() {
			return nil
		}
		if err := d.InitErr(); err != nil {
			return err
		}
		if deliverer != nil {
			deliverer.DeliverQueue(d.reqQueue().index)
		}
	}
	if err := d.InitErr(); err != nil {
		return err
	}
	if !d.initDone.Load() {
		return errx.With(ErrProtocol, ": INIT response not observed after %d spins", maxSpins)
	}
	return nil
}
