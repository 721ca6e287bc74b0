package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	slog "github.com/vearne/simplelog"

	"github.com/vearne/h2guard/config"
	"github.com/vearne/h2guard/consts"
	"github.com/vearne/h2guard/http2"
)

const banner string = `
    __   ___                                   __
   / /_ |__ \ ____ _ __  __ ____ _ _____ ____/ /
  / __ \__/ // __ '// / / // __ '// ___// __  /
 / / / / __// /_/ // /_/ // /_/ // /   / /_/ /
/_/ /_/____/\__, / \__,_/ \__,_//_/    \__,_/
           /____/
`

var settings config.ServerSettings
var version bool

func init() {
	flag.BoolVar(&version, "version", false,
		"print version")

	flag.DurationVar(&settings.ExitAfter, "exit-after", 0, "exit after specified duration")

	flag.Var(&config.MultiStringOption{Params: &settings.ListenAddrs}, "listen",
		`Accept h2c connections on the given address (may be repeated):
                h2guard --listen="0.0.0.0:8080" --listen="0.0.0.0:8081"
               `)

	flag.IntVar(&settings.MaxHeaderCount, "max-header-count", config.DefaultMaxHeaderCount,
		"maximum number of header fields per request, pseudo-headers included")

	flag.IntVar(&settings.MaxHeaderSize, "max-header-size", config.DefaultMaxHeaderSize,
		"maximum cumulative header size per request, counted as len(name)+len(value)+3 per field")

	flag.IntVar(&settings.MaxSwallowedBytes, "max-swallowed-bytes", config.DefaultMaxSwallowedBytes,
		`margin of compressed header-block bytes drained after a limit trips;
				past it the connection is aborted instead of the stream being reset`)

	flag.Var(&uint32Option{Param: &settings.MaxFrameSize},
		"max-frame-size", "maximum frame payload size advertised to peers (default 16384)")

	flag.Var(&uint32Option{Param: &settings.HeaderTableSize},
		"header-table-size", "HPACK dynamic table size advertised to peers (default 4096)")

	flag.DurationVar(&settings.ReadTimeout, "read-timeout", config.DefaultReadTimeout,
		"idle timeout while waiting for the next frame")
}

type uint32Option struct {
	Param *uint32
}

func (o *uint32Option) String() string {
	if o.Param == nil {
		return ""
	}
	return fmt.Sprint(*o.Param)
}

func (o *uint32Option) Set(value string) error {
	v, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return err
	}
	*o.Param = uint32(v)
	return nil
}

func main() {
	fmt.Print(banner)

	adjustLogLevel()

	flag.Parse()

	if version {
		fmt.Println("service: h2guard")
		fmt.Println("Version", consts.Version)
		fmt.Println("BuildTime", consts.BuildTime)
		fmt.Println("GitTag", consts.GitTag)
		return
	}

	settings.WithDefaults()
	printSettings(&settings)

	server := http2.NewServer(&settings, defaultDispatcher)
	for _, addr := range settings.ListenAddrs {
		go func(addr string) {
			if err := server.ListenAndServe(addr); err != nil {
				slog.Fatal("listen %v error:%v", addr, err)
			}
		}(addr)
	}

	closeCh := make(chan int)
	if settings.ExitAfter > 0 {
		slog.Info("Running h2guard for a duration of %s\n", settings.ExitAfter)

		time.AfterFunc(settings.ExitAfter, func() {
			slog.Info("run timeout %s\n", settings.ExitAfter)
			close(closeCh)
		})
	}
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGINT)
	exit := 0
	select {
	case <-c:
		exit = 1
	case <-closeCh:
		exit = 0
	}
	server.Shutdown()
	os.Exit(exit)
}

func defaultDispatcher(req *http2.Request) *http2.Response {
	slog.Debug("dispatch stream:%v, method:%v, path:%v, %v header fields",
		req.StreamID, req.Method, req.Path, len(req.Headers))
	return &http2.Response{
		Status: 200,
		Body:   []byte("h2guard: " + req.Path + "\n"),
	}
}

func printSettings(settings *config.ServerSettings) {
	slog.Info("listen, %v", settings.ListenAddrs)
	slog.Info("max-header-count, %v", settings.MaxHeaderCount)
	slog.Info("max-header-size, %v", settings.MaxHeaderSize)
	slog.Info("max-swallowed-bytes, %v", settings.MaxSwallowedBytes)
	slog.Info("max-frame-size, %v", settings.MaxFrameSize)
	slog.Info("header-table-size, %v", settings.HeaderTableSize)
	slog.Info("read-timeout, %v", settings.ReadTimeout)
}

func adjustLogLevel() {
	logLevel := os.Getenv("SIMPLE_LOG_LEVEL")
	if len(logLevel) > 0 {
		return
	}
	slog.SetLevel(slog.InfoLevel)
}
