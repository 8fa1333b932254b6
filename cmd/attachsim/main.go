// attachsim attaches the virtio-fs guest driver to an in-memory fake
// transport and host daemon, drives the INIT handshake plus a handful of
// requests, and reports the negotiated features and per-queue descriptor
// stats. It is the diagnostic bring-up surface for the driver; nothing in
// it runs in the production attach path.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/virtiofs-guest/internal/diag"
	"github.com/jingkaihe/virtiofs-guest/internal/dma"
	"github.com/jingkaihe/virtiofs-guest/internal/fakehost"
	"github.com/jingkaihe/virtiofs-guest/pkg/device"
	"github.com/jingkaihe/virtiofs-guest/pkg/logging"
	"github.com/jingkaihe/virtiofs-guest/pkg/transport"
	"github.com/jingkaihe/virtiofs-guest/pkg/wire"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "attachsim",
		Short:         "Attach the virtio-fs guest driver to a simulated host",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runAttachSim,
	}

	rootCmd.Flags().String("tag", "attachsim", "Filesystem tag exposed in the device config")
	rootCmd.Flags().Uint32("queues", 1, "Number of request queues the device reports")
	rootCmd.Flags().Uint32("notify-buf-size", 0, "Notify buffer size the device reports")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().String("trace-file", "", "Write a CBOR wire trace to this file")
	rootCmd.Flags().String("event-file", "", "Write JSONL driver events to this file")
	rootCmd.Flags().Int("busy-wait-init", 64, "Spin budget while waiting for the INIT response")
	rootCmd.Flags().Bool("no-correlation", false, "Send every request with unique=0")

	viper.BindPFlag("attachsim.tag", rootCmd.Flags().Lookup("tag"))
	viper.BindPFlag("attachsim.queues", rootCmd.Flags().Lookup("queues"))
	viper.BindPFlag("attachsim.notify-buf-size", rootCmd.Flags().Lookup("notify-buf-size"))
	viper.BindPFlag("attachsim.log-level", rootCmd.Flags().Lookup("log-level"))
	viper.BindPFlag("attachsim.trace-file", rootCmd.Flags().Lookup("trace-file"))
	viper.BindPFlag("attachsim.event-file", rootCmd.Flags().Lookup("event-file"))
	viper.BindPFlag("attachsim.busy-wait-init", rootCmd.Flags().Lookup("busy-wait-init"))
	viper.BindPFlag("attachsim.no-correlation", rootCmd.Flags().Lookup("no-correlation"))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAttachSim(cmd *cobra.Command, args []string) error {
	tag, _ := cmd.Flags().GetString("tag")
	queues, _ := cmd.Flags().GetUint32("queues")
	notifyBufSize, _ := cmd.Flags().GetUint32("notify-buf-size")
	logLevel, _ := cmd.Flags().GetString("log-level")
	traceFile, _ := cmd.Flags().GetString("trace-file")
	eventFile, _ := cmd.Flags().GetString("event-file")
	spins, _ := cmd.Flags().GetInt("busy-wait-init")
	noCorrelation, _ := cmd.Flags().GetBool("no-correlation")

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	host := fakehost.New()
	docs := host.AddDir(host.Root(), "docs")
	host.AddFile(host.Root(), "hello.txt", []byte("hello from the fake host\n"))
	host.AddFile(docs, "readme.md", []byte("# readme\n"))

	tr := transport.NewFake(transport.FakeConfigRegion(tag, queues, notifyBufSize))
	tr.SetDefaultHostHandler(host.Handle)

	opts := device.Options{Logger: logger}

	if traceFile != "" {
		f, err := os.Create(traceFile)
		if err != nil {
			return err
		}
		defer f.Close()
		opts.Trace = diag.NewRecorder(f)
	}

	if eventFile != "" {
		sink, err := logging.NewJSONLWriter(eventFile)
		if err != nil {
			return err
		}
		defer sink.Close()
		opts.Emitter = logging.NewEmitter(logging.EmitterConfig{Tag: tag}, sink)
	}

	dev, err := device.Attach(tr, dma.New(), opts)
	if err != nil {
		return err
	}
	if noCorrelation {
		dev.DisableCorrelation()
	}

	if err := dev.AwaitInit(spins); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session      %s\n", dev.SessionID)
	fmt.Fprintf(out, "tag          %s\n", dev.Config().TagString())
	fmt.Fprintf(out, "queues       %d\n", dev.Config().NumRequestQueues)
	fmt.Fprintf(out, "proto        7.%d\n", dev.EffectiveMinor())
	fmt.Fprintf(out, "features     %#016x\n\n", dev.NegotiatedFlags())

	// One synchronous round trip per sample operation: submit, then drain
	// the used ring the way the interrupt handler would.
	call := func(submit func(cb device.Callback) (uint64, error)) (device.Result, error) {
		var res device.Result
		done := false
		if _, err := submit(func(r device.Result) { res = r; done = true }); err != nil {
			return res, err
		}
		tr.DeliverQueue(1)
		if !done {
			return res, fmt.Errorf("no completion delivered")
		}
		return res, nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "OPERATION\tRESULT")

	if res, err := call(func(cb device.Callback) (uint64, error) {
		return dev.Lookup(wire.RootNodeID, "hello.txt", cb)
	}); err != nil {
		return err
	} else if res.Err != nil {
		fmt.Fprintf(w, "lookup hello.txt\t%v\n", res.Err)
	} else {
		fileNode := res.Entry.Nodeid
		fmt.Fprintf(w, "lookup hello.txt\tnodeid=%d size=%d\n", fileNode, res.Entry.Attr.Size)

		if res, err := call(func(cb device.Callback) (uint64, error) {
			return dev.Open(fileNode, 0, cb)
		}); err != nil {
			return err
		} else if res.Err != nil {
			fmt.Fprintf(w, "open\t%v\n", res.Err)
		} else {
			fh := res.Open.Fh
			fmt.Fprintf(w, "open\tfh=%d\n", fh)

			if res, err := call(func(cb device.Callback) (uint64, error) {
				return dev.Read(fileNode, fh, 0, 4096, cb)
			}); err != nil {
				return err
			} else if res.Err != nil {
				fmt.Fprintf(w, "read\t%v\n", res.Err)
			} else {
				fmt.Fprintf(w, "read\t%d bytes\n", len(res.Data))
			}

			if res, err := call(func(cb device.Callback) (uint64, error) {
				return dev.Write(fileNode, fh, 0, []byte("rewritten\n"), cb)
			}); err != nil {
				return err
			} else if res.Err != nil {
				fmt.Fprintf(w, "write\t%v\n", res.Err)
			} else {
				fmt.Fprintf(w, "write\t%d bytes\n", res.Write.Size)
			}
		}
	}

	if res, err := call(func(cb device.Callback) (uint64, error) {
		return dev.Opendir(wire.RootNodeID, 0, cb)
	}); err != nil {
		return err
	} else if res.Err != nil {
		fmt.Fprintf(w, "opendir /\t%v\n", res.Err)
	} else {
		dirFh := res.Open.Fh
		if res, err := call(func(cb device.Callback) (uint64, error) {
			return dev.Readdir(wire.RootNodeID, dirFh, 0, 4096, cb)
		}); err != nil {
			return err
		} else if res.Err != nil {
			fmt.Fprintf(w, "readdir /\t%v\n", res.Err)
		} else {
			names := make([]string, 0, len(res.Dirents))
			for _, d := range res.Dirents {
				names = append(names, d.Name)
			}
			fmt.Fprintf(w, "readdir /\t%v\n", names)
		}
	}

	if res, err := call(func(cb device.Callback) (uint64, error) {
		return dev.Statfs(wire.RootNodeID, cb)
	}); err != nil {
		return err
	} else if res.Err != nil {
		fmt.Fprintf(w, "statfs\t%v\n", res.Err)
	} else {
		fmt.Fprintf(w, "statfs\tblocks=%d bsize=%d\n", res.Kstatfs.Blocks, res.Kstatfs.Bsize)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "QUEUE\tINDEX\tSUBMITTED\tCOMPLETED")
	for _, s := range dev.QueueStats() {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", s.Name, s.Index, s.Submitted, s.Completed)
	}
	return nil
}
