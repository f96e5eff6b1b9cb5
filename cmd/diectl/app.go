package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/itohio/godice/pkg/config"
	"github.com/itohio/godice/pkg/dataset"
	"github.com/itohio/godice/pkg/die"
	"github.com/itohio/godice/pkg/event"
	"github.com/itohio/godice/pkg/journal"
	"github.com/itohio/godice/pkg/link"
	"github.com/itohio/godice/pkg/link/serialport"
	"github.com/itohio/godice/pkg/logging"
	"github.com/itohio/godice/pkg/message"
	"github.com/itohio/godice/pkg/programmer"
)

type transport int

const (
	transportSerial transport = iota
	transportBLE
	transportMock
)

var errUsage = errors.New("invalid arguments")

// app holds the state of one diectl invocation.
type app struct {
	cfg       *config.Config
	out       io.Writer
	transport transport
	log       zerolog.Logger

	loop    *event.Loop
	device  die.Device
	host    *programmer.Host
	journal *journal.Store
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	a.log = logging.For("diectl")

	switch cmd {
	case "ports":
		return a.ports()
	case "defaults":
		return a.defaults(args)
	case "info":
		return a.info(args)
	case "history":
		return a.history(args)
	case "identify", "upload", "download":
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}

	if err := a.connect(ctx); err != nil {
		return err
	}
	defer a.close()

	switch cmd {
	case "identify":
		return a.identify(ctx)
	case "upload":
		return a.upload(ctx, args)
	default:
		return a.download(ctx, args)
	}
}

func (a *app) newDevice() die.Device {
	switch a.transport {
	case transportMock:
		return die.NewMock(a.cfg, a.loop)
	case transportBLE:
		return die.NewBLE(a.cfg.BLEDevice(), a.loop)
	default:
		return die.NewSerial(a.cfg.Serial.Port, a.cfg.Serial.BaudRate, a.loop)
	}
}

func (a *app) connect(ctx context.Context) error {
	if a.cfg.Journal.Path != "" {
		store, err := journal.Open(a.cfg.Journal.Path)
		if err != nil {
			return err
		}
		a.journal = store
	}

	a.loop = event.NewLoop()
	a.loop.Start()

	a.device = a.newDevice()
	a.log.Info().Str("transport", a.device.Transport()).Str("endpoint", a.device.Endpoint()).Msg("connecting")
	if err := a.device.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	return event.Await(ctx, a.loop, func(done func(error)) {
		a.host = programmer.NewHost(link.NewService(a.device.Channel()), a.loop, a.cfg.Bulk(), a.cfg.Transfer.FinishTimeout)
		a.host.OnProgress(func(n, total int) {
			a.log.Debug().Int("done", n).Int("total", total).Msg("progress")
		})
		done(nil)
	})
}

func (a *app) close() {
	if a.device != nil {
		if err := a.device.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close device")
		}
	}
	if a.loop != nil {
		a.loop.Stop()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close journal")
		}
	}
}

// record journals one operation when a journal is configured. The returned
// func must be called with the outcome.
func (a *app) record(direction string) (finish func(id string, size int, hash uint32, err error)) {
	if a.journal == nil {
		return func(string, int, uint32, error) {}
	}
	started := time.Now()
	return func(id string, size int, hash uint32, opErr error) {
		entry := journal.Entry{
			ID:        id,
			Direction: direction,
			Transport: a.device.Transport(),
			Endpoint:  a.device.Endpoint(),
			StartedAt: started,
		}
		jid, err := a.journal.Begin(entry)
		if err == nil {
			err = a.journal.Finish(jid, size, hash, opErr)
		}
		if err != nil {
			a.log.Warn().Err(err).Msg("failed to journal transfer")
		}
	}
}

func (a *app) ports() error {
	ports, err := serialport.Ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(a.out, "no serial ports found")
	}
	for _, p := range ports {
		fmt.Fprintln(a.out, p.Name)
	}
	return nil
}

func (a *app) identify(ctx context.Context) error {
	finish := a.record(journal.DirectionIdentify)
	var who message.IAmADie
	err := event.Await(ctx, a.loop, func(done func(error)) {
		err := a.host.Identify(func(m message.IAmADie, err error) {
			who = m
			done(err)
		})
		if err != nil {
			done(err)
		}
	})
	finish("", 0, who.DataSetHash, err)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "die %d, data set hash 0x%08x\n", who.ID, who.DataSetHash)
	return nil
}

func (a *app) upload(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: upload needs a data set document", errUsage)
	}
	doc, err := dataset.LoadDocument(args[0])
	if err != nil {
		return err
	}
	img, err := doc.Build()
	if err != nil {
		return err
	}

	finish := a.record(journal.DirectionUpload)
	err = event.Await(ctx, a.loop, func(done func(error)) {
		if err := a.host.Upload(img, done); err != nil {
			done(err)
		}
	})
	finish(a.transferID(), len(img.Payload), dataset.Hash(img.Payload), err)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "uploaded %d bytes, hash 0x%08x\n", len(img.Payload), dataset.Hash(img.Payload))
	return nil
}

func (a *app) download(ctx context.Context, args []string) error {
	if len(args) > 1 {
		return fmt.Errorf("%w: download takes at most one file", errUsage)
	}

	finish := a.record(journal.DirectionDownload)
	var ds *dataset.DataSet
	err := event.Await(ctx, a.loop, func(done func(error)) {
		err := a.host.Download(func(got *dataset.DataSet, err error) {
			ds = got
			done(err)
		})
		if err != nil {
			done(err)
		}
	})
	if err != nil {
		finish(a.transferID(), 0, 0, err)
		return err
	}

	hash, err := ds.Hash()
	finish(a.transferID(), ds.Size(), hash, err)
	if err != nil {
		return err
	}
	doc, err := dataset.DocumentFrom(ds)
	if err != nil {
		return err
	}
	return a.writeDocument(doc, args)
}

// transferID reads the host's last transfer id. A transfer that never
// started leaves the journal to pick a fresh id.
func (a *app) transferID() string {
	var id string
	_ = event.Await(context.Background(), a.loop, func(done func(error)) {
		if t := a.host.TransferID(); t != uuid.Nil {
			id = t.String()
		}
		done(nil)
	})
	return id
}

func (a *app) defaults(args []string) error {
	if len(args) > 1 {
		return fmt.Errorf("%w: defaults takes at most one file", errUsage)
	}
	ds, err := dataset.FromImage(dataset.Defaults())
	if err != nil {
		return err
	}
	doc, err := dataset.DocumentFrom(ds)
	if err != nil {
		return err
	}
	return a.writeDocument(doc, args)
}

func (a *app) writeDocument(doc *dataset.Document, args []string) error {
	if len(args) == 1 {
		return doc.Save(args[0])
	}
	data, err := doc.Marshal()
	if err != nil {
		return err
	}
	_, err = a.out.Write(data)
	return err
}

func (a *app) info(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: info needs a data set document", errUsage)
	}
	doc, err := dataset.LoadDocument(args[0])
	if err != nil {
		return err
	}
	img, err := doc.Build()
	if err != nil {
		return err
	}

	l := dataset.Plan(0, img.Counts)
	fmt.Fprintf(a.out, "payload %d bytes, hash 0x%08x\n", len(img.Payload), dataset.Hash(img.Payload))
	for _, s := range dataset.Sections() {
		span := l.Span(s)
		if span.Size == 0 {
			continue
		}
		fmt.Fprintf(a.out, "  %-18s %4d entries %5d bytes at +%d\n", s, span.Count, span.Size, int(span.Address)-dataset.HeaderSize)
	}
	return nil
}

func (a *app) history(args []string) error {
	if a.cfg.Journal.Path == "" {
		return fmt.Errorf("%w: no journal path configured", errUsage)
	}
	limit := 10
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		limit = n
	}

	store, err := journal.Open(a.cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(a.out, "%s %-8s %-8s %-6s %5d bytes 0x%08x %s %s\n",
			e.StartedAt.Format(time.RFC3339), e.Direction, e.Status, e.Transport, e.Size, e.Hash, e.Endpoint, e.Error)
	}
	return nil
}
