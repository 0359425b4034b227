// Command fraessim shows a milling simulation in a window.
package main

import (
	"flag"
	"fmt"
	"image/color"
	"math"
	"os"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/feedop/Fraessimulator/internal/config"
	"github.com/feedop/Fraessimulator/internal/driver"
	"github.com/feedop/Fraessimulator/internal/logging"
	"github.com/feedop/Fraessimulator/internal/scene"
	"github.com/feedop/Fraessimulator/internal/shade"
	"github.com/feedop/Fraessimulator/internal/tool"
)

var background = color.RGBA{0x20, 0x22, 0x28, 0xff}

type game struct {
	scene   *scene.Scene
	painter *shade.Painter
	img     *ebiten.Image
}

func newGame(s *scene.Scene) *game {
	wp := s.Workpiece()
	g := &game{
		scene:   s,
		painter: shade.NewPainter(wp.Cols(), wp.Rows()),
		img:     ebiten.NewImage(wp.Cols(), wp.Rows()),
	}
	g.repaint()
	return g
}

// repaint redraws everything after the stock was restored. The depth
// range starts over from the fresh stock.
func (g *game) repaint() {
	wp := g.scene.Workpiece()
	g.painter.Reset(g.scene.Config().Stock.Top, wp.MinHeight())
	g.painter.Paint(g.scene.Surface(), 0, wp.Rows())
	g.img.WritePixels(g.painter.Image.Pix)
}

func (g *game) Update() error {
	s := g.scene
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyEscape):
		return ebiten.Termination
	case inpututil.IsKeyJustPressed(ebiten.KeySpace):
		if s.State() == driver.Paused {
			s.Resume()
		} else {
			s.Pause()
		}
	case inpututil.IsKeyJustPressed(ebiten.KeyR):
		s.Restart()
		g.repaint()
	case inpututil.IsKeyJustPressed(ebiten.KeyB):
		g.setDrill(s.Tool().Diameter(), s.Tool().Shape() != tool.Ball)
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowUp):
		g.setDrill(s.Tool().Diameter()+1, s.Tool().Shape() == tool.Ball)
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowDown):
		g.setDrill(s.Tool().Diameter()-1, s.Tool().Shape() == tool.Ball)
	}

	if s.PerformGradualMill() {
		u := s.Surface().Updated()
		g.painter.Follow(s.Workpiece().MinHeight())
		g.painter.Paint(s.Surface(), u.Min.Y, u.Max.Y)
		g.img.WritePixels(g.painter.Image.Pix)
	}
	return nil
}

// setDrill swaps the tool and runs the program again. Sizes the tool
// rejects are ignored.
func (g *game) setDrill(size float64, ballNose bool) {
	if err := g.scene.SetDrill(size, ballNose); err != nil {
		return
	}
	g.scene.Restart()
	g.repaint()
}

func (g *game) Draw(screen *ebiten.Image) {
	screen.Fill(background)

	sw, sh := screen.Bounds().Dx(), screen.Bounds().Dy()
	iw, ih := g.img.Bounds().Dx(), g.img.Bounds().Dy()
	scale := math.Min(float64(sw)/float64(iw), float64(sh)/float64(ih))

	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(scale, scale)
	op.GeoM.Translate((float64(sw)-scale*float64(iw))/2, (float64(sh)-scale*float64(ih))/2)
	op.Filter = ebiten.FilterLinear
	screen.DrawImage(g.img, op)

	s := g.scene
	ebitenutil.DebugPrint(screen, fmt.Sprintf("%v  %s  %3.0f%%  %.0f mm3\nspace pause  r restart  b ball/flat  up/down size",
		s.Tool(), s.State(), 100*s.Progress().Fraction(), s.Stats().Volume))
	ebiten.SetWindowTitle(fmt.Sprintf("Fraessimulator (%.0f fps)", ebiten.ActualFPS()))
}

func (g *game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return outsideWidth, outsideHeight
}

func main() {
	configPath := flag.String("config", "", "Read settings from this YAML file.")
	programPath := flag.String("program", "", "Run this G-code file. Without one a pocketing demo runs.")
	drill := flag.Float64("drill", 0, "Override the tool diameter in mm.")
	ball := flag.Bool("ball", false, "Use a ball-nose end mill.")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}
	if *drill != 0 {
		cfg.Tool.Diameter = *drill
	}
	if *ball {
		cfg.Tool.Shape = tool.Ball.String()
	}

	logger, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	s, err := scene.New(cfg, scene.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if *programPath != "" {
		text, err := os.ReadFile(*programPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		if err := s.LoadProgram(string(text)); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", *programPath, err)
			os.Exit(1)
		}
	} else {
		s.LoadDemo()
	}

	ebiten.SetWindowTitle("Fraessimulator")
	ebiten.SetWindowSize(900, 900)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetTPS(60)
	if err := ebiten.RunGame(newGame(s)); err != nil && err != ebiten.Termination {
		logger.Error("window closed", "err", err)
		os.Exit(1)
	}
}
