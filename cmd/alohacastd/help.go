package main

import (
	"fmt"

	"github.com/fatih/color"
)

const helpString = `Wayland screen capture for connected devices

Usage: alohacastd [OPTION]...

Compositor:
  -d, --display=NAME     Wayland display (default: $WAYLAND_DISPLAY)
  -o, --output=NAME      Capture only the named output (default: all outputs)
      --crop=X,Y,WxH     Capture a sub-rectangle of the output
      --cursor           Composite the cursor into captured frames

Buffers:
  -g, --gpu              Prefer GPU (dmabuf) buffers over shared memory
      --drm-device=FILE  DRM node for GPU allocation (default: /dev/dri/card0)
  -q, --queue-depth=NUM  Frames buffered before the oldest is dropped
                           (default: 2)

Capture:
  -n, --frames=NUM       Stop after NUM frames (default: unlimited)
  -w, --outfile=FILE     Write raw frames to FILE ("-" for stdout)
      --damage           Only copy when the output changes

Miscellaneous:
  -h, --help             Prints this help message and exits
  -v, --version          Prints version information and exits

Please report bugs to: aloha@lanikailabs.com
AlohaCast home page: https://lanikailabs.com`

// Help information is printed and program exits
func help() {
	r := color.New(color.FgRed)
	y := color.New(color.FgYellow)
	b := color.New(color.FgCyan)

	//         _         _                              _
	//   __ _ | |  ___  | |__    __ _  ___  __ _  ___ | |_
	//  / _` || | / _ \ | '_ \  / _` |/ __|/ _` |/ __|| __|
	// | (_| || || (_) || | | || (_| |\__ \ (_| |\__ \| |_
	//  \__,_||_| \___/ |_| |_| \__,_||___/\__,_||___/ \__|

	// Line 1
	r.Printf("        ")
	y.Printf(" _ ")
	b.Printf("       ")
	y.Printf(" _     ")
	r.Printf("       ")
	y.Printf("     ")
	b.Printf("     ")
	y.Println(" _   ")

	// Line 2
	r.Printf("   __ _ ")
	y.Printf("| |")
	b.Printf("  ___  ")
	y.Printf("| |__  ")
	r.Printf("  __ _ ")
	y.Printf(" ___ ")
	b.Printf(" __ _")
	y.Println("| |_ ")

	// Line 3
	r.Printf("  / _` |")
	y.Printf("| |")
	b.Printf(" / _ \\ ")
	y.Printf("| '_ \\ ")
	r.Printf(" / _` |")
	y.Printf("/ __|")
	b.Printf("/ _` ")
	y.Println("| __|")

	// Line 4
	r.Printf(" | (_| |")
	y.Printf("| |")
	b.Printf("| (_) |")
	y.Printf("| | | |")
	r.Printf("| (_| |")
	y.Printf("\\__ \\")
	b.Printf(" (_| ")
	y.Println("| |_ ")

	// Line 5
	r.Printf("  \\__,_|")
	y.Printf("|_|")
	b.Printf(" \\___/ ")
	y.Printf("|_| |_|")
	r.Printf(" \\__,_|")
	y.Printf("|___/")
	b.Printf("\\__,_")
	y.Println("|\\__|")

	fmt.Println(helpString)
}
