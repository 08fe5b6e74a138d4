package main

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	LogAddress      string  `long:"use-asio-log" description:"Log channel address: a socket path or HOST:PORT"`
	SessionIdentity string  `long:"session-identity" default:"logtest" description:"Session identity announced in the log header"`
	LogIdentity     string  `long:"log-identity" default:"0" description:"Process number assigned by the supervisor"`
	Messages        int     `long:"messages" default:"3" description:"Number of progress messages to log"`
	RunTime         float64 `long:"run-time" default:"0" description:"Seconds to spend between the messages"`
	ExitCode        int     `long:"exit-code" default:"0" description:"Exit code to finish with"`
	Unclean         bool    `long:"unclean" description:"Close the stream without the closing element"`
}

const source = "LogTest"

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag|flags.IgnoreUnknown)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	out, err := openLog(opts.LogAddress)
	if err != nil {
		fmt.Printf("Failed to open log channel: %v\n", err)
		os.Exit(1)
	}

	// Enable signal handling
	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig)
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sig:
			cancel()
		case <-ctx.Done():
		}
	}()

	w := &logWriter{out: out, start: time.Now()}
	code := run(ctx, w, opts)
	out.Close()
	os.Exit(code)
}

func openLog(address string) (io.WriteCloser, error) {
	if address == "" {
		return nopCloser{os.Stdout}, nil
	}
	network := "unix"
	if !strings.HasPrefix(address, "/") {
		if _, _, err := net.SplitHostPort(address); err == nil {
			network = "tcp"
		}
	}
	return net.DialTimeout(network, address, 5*time.Second)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// run emits the test stream and returns the exit code
func run(ctx context.Context, w *logWriter, opts flagOptions) int {
	w.line("<log%s>", attrs(
		"start_tse_us", fmt.Sprint(w.start.UnixMicro()),
		"session", opts.SessionIdentity,
		"identity", opts.LogIdentity))
	w.line("<d%s/>", attrs("src", source, "iid", "1", "dn", source, "desc", "log channel test"))
	w.line("<ds%s/>", attrs("src", source, "tag", "Working", "bgn", "workStart", "end", "workDone"))
	w.line("<as%s/>", attrs("src", source, "tag", "Working"))
	w.message("workStart", "starting work")

	pause := time.Duration(0)
	if opts.Messages > 0 {
		pause = time.Duration(opts.RunTime * float64(time.Second) / float64(opts.Messages))
	}
	for i := 0; i < opts.Messages; i++ {
		select {
		case <-ctx.Done():
			w.message("interrupted", "interrupted")
			w.line("</log>")
			return 1
		case <-time.After(pause):
		}
		w.message("step", "step ${i} of ${n}",
			arg("i", "int64", fmt.Sprint(i)),
			arg("n", "int64", fmt.Sprint(opts.Messages)),
			progressArg(i+1, opts.Messages))
		w.line("<hb/>")
	}

	w.message("workDone", "work done")
	if !opts.Unclean {
		w.line("</log>")
	}
	return opts.ExitCode
}

type logWriter struct {
	out   io.Writer
	start time.Time
}

func (w *logWriter) line(format string, args ...interface{}) {
	fmt.Fprintf(w.out, format+"\n", args...)
}

func (w *logWriter) message(tag, text string, args ...string) {
	var b bytes.Buffer
	b.WriteString("<f>")
	_ = xml.EscapeText(&b, []byte(text))
	b.WriteString("</f>")
	for _, a := range args {
		b.WriteString(a)
	}
	ts := fmt.Sprintf("%.6f", time.Since(w.start).Seconds())
	w.line("<m%s>%s</m>", attrs("lvl", "info", "src", source, "tag", tag, "iid", "1", "ts", ts), b.String())
}

func arg(name, typ, value string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(value))
	return fmt.Sprintf("<a%s>%s</a>", attrs("n", name, "t", typ), b.String())
}

func progressArg(value, total int) string {
	return fmt.Sprintf("<a%s>%d</a>", attrs("n", "progress", "t", "MainPrgrss", "min", "0", "max", fmt.Sprint(total)), value)
}

// attrs renders name/value pairs as escaped XML attributes
func attrs(pairs ...string) string {
	var b bytes.Buffer
	for i := 0; i+1 < len(pairs); i += 2 {
		b.WriteByte(' ')
		b.WriteString(pairs[i])
		b.WriteString(`="`)
		_ = xml.EscapeText(&b, []byte(pairs[i+1]))
		b.WriteByte('"')
	}
	return b.String()
}
