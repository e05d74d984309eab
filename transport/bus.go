package transport

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"

	"github.com/weiihann/ipcbench/bus"
)

// A receiving side polls this many times before it yields the processor.
const busSpin = 1 << 10

func requestService(prefix string) string  { return prefix + "_request" }
func responseService(prefix string) string { return prefix + "_response" }

// endpoint is one side of a request/response pair of bus services.
type endpoint struct {
	in  *bus.Service
	out *bus.Service
	pub *bus.Publisher
	sub *bus.Subscriber
}

func openEndpoint(prefix string, size int, driver bool) (*endpoint, error) {
	inName, outName := responseService(prefix), requestService(prefix)
	if !driver {
		inName, outName = outName, inName
	}

	in, err := bus.OpenService(inName, size)
	if err != nil {
		return nil, err
	}

	out, err := bus.OpenService(outName, size)
	if err != nil {
		in.Close()

		return nil, err
	}

	return &endpoint{
		in:  in,
		out: out,
		pub: out.Publisher(),
		sub: in.Subscriber(),
	}, nil
}

// receive polls until a sample arrives or ctx is done.
func (e *endpoint) receive(ctx context.Context) ([]byte, error) {
	for i := 0; ; i++ {
		if msg, ok := e.sub.Receive(); ok {
			return msg, nil
		}

		if i < busSpin {
			continue
		}

		if i%busSpin == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}

		runtime.Gosched()
	}
}

func (e *endpoint) close() error {
	return errors.Join(e.in.Close(), e.out.Close())
}

type busDriver struct {
	ep     *endpoint
	prefix string
	size   int
}

func newBusDriver(opts Options) (*busDriver, error) {
	// Services from an earlier run may carry another sample size.
	for _, name := range []string{
		requestService(opts.BusPrefix), responseService(opts.BusPrefix),
	} {
		if err := bus.Remove(name); err != nil {
			return nil, fmt.Errorf("remove stale service %s: %w", name, err)
		}
	}

	ep, err := openEndpoint(opts.BusPrefix, opts.DataSize, true)
	if err != nil {
		return nil, err
	}

	return &busDriver{ep: ep, prefix: opts.BusPrefix, size: opts.DataSize}, nil
}

func (d *busDriver) ConsumerArgs() []string {
	return []string{d.prefix, strconv.Itoa(d.size)}
}

func (d *busDriver) Attach(*exec.Cmd) error { return nil }

func (d *busDriver) Connect(context.Context) error { return nil }

func (d *busDriver) Send(p []byte) error {
	return d.ep.pub.Publish(p)
}

// Receive polls without a bound; a stuck consumer blocks the driver.
func (d *busDriver) Receive() ([]byte, error) {
	return d.ep.receive(context.Background())
}

func (d *busDriver) Close() error {
	return errors.Join(
		d.ep.close(),
		bus.Remove(requestService(d.prefix)),
		bus.Remove(responseService(d.prefix)),
	)
}

func serveBus(ctx context.Context, args []string, ready func() error) error {
	if err := checkArgs(args, "prefix", "size"); err != nil {
		return err
	}

	pair, err := parsePair(args[1])
	if err != nil {
		return err
	}

	ep, err := openEndpoint(args[0], pair.Size(), false)
	if err != nil {
		return err
	}
	defer ep.close()

	if err := ready(); err != nil {
		return err
	}

	for {
		msg, err := ep.receive(ctx)
		if err != nil {
			return nil
		}

		reply, err := replyTo(pair, msg)
		if err != nil {
			return err
		}

		if err := ep.pub.Publish(reply); err != nil {
			return fmt.Errorf("publish reply: %w", err)
		}
	}
}
