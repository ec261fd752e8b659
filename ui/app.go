// Package ui provides the Fyne-based GUI for NutriVoice.
package ui

import (
	"context"
	"fmt"
	"image/color"
	"log/slog"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/nutrivoice/nutrivoice/pkg/audio"
	"github.com/nutrivoice/nutrivoice/pkg/config"
	"github.com/nutrivoice/nutrivoice/pkg/session"
	"github.com/nutrivoice/nutrivoice/pkg/version"
)

// orbSize is the diameter of the status orb in points.
const orbSize float32 = 120

// Orb colors per session status.
var (
	colorIdle       = color.NRGBA{R: 0x9e, G: 0x9e, B: 0x9e, A: 0xff} // gray
	colorConnecting = color.NRGBA{R: 0xfd, G: 0xd8, B: 0x35, A: 0xff} // yellow
	colorListening  = color.NRGBA{R: 0x4c, G: 0xaf, B: 0x50, A: 0xff} // green
	colorBuffering  = color.NRGBA{R: 0xff, G: 0x98, B: 0x00, A: 0xff} // orange
	colorSpeaking   = color.NRGBA{R: 0x42, G: 0xa5, B: 0xf5, A: 0xff} // blue
	colorError      = color.NRGBA{R: 0xe5, G: 0x39, B: 0x35, A: 0xff} // red
)

// App is the main GUI application.
type App struct {
	fyneApp fyne.App
	window  fyne.Window
	ctrl    *session.Controller

	// UI components
	orb           *canvas.Circle
	orbLabel      *widget.Label
	statusLabel   *widget.Label
	connectBtn    *widget.Button
	disconnectBtn *widget.Button
	resetBtn      *widget.Button
	vuMeter       *widget.ProgressBar

	settings *config.Settings
}

// NewApp creates the NutriVoice GUI around the given session controller.
func NewApp(ctrl *session.Controller, settings *config.Settings) *App {
	// Start PortAudio init in background immediately so it's ready by the
	// time the user connects.
	audio.PreInitAudio()

	a := &App{
		fyneApp:  app.NewWithID("io.nutrivoice.app"),
		ctrl:     ctrl,
		settings: settings,
	}
	a.window = a.fyneApp.NewWindow("NutriVoice")
	a.window.Resize(fyne.NewSize(360, 420))
	a.window.SetMaster()
	return a
}

// Run starts the GUI application (blocks).
func (a *App) Run() {
	a.buildUI()
	a.bindEvents()
	a.window.SetCloseIntercept(func() {
		a.ctrl.Disconnect()
		a.fyneApp.Quit()
	})
	a.window.ShowAndRun()
}

func (a *App) buildUI() {
	// --- Orb ---
	a.orb = canvas.NewCircle(colorIdle)
	orbHolder := container.New(layout.NewGridWrapLayout(fyne.NewSize(orbSize, orbSize)), a.orb)

	a.orbLabel = widget.NewLabelWithStyle("Tap to speak", fyne.TextAlignCenter, fyne.TextStyle{Bold: true})

	// --- VU meter ---
	a.vuMeter = widget.NewProgressBar()
	a.vuMeter.Min = 0
	a.vuMeter.Max = 1

	// --- Buttons ---
	a.connectBtn = widget.NewButtonWithIcon("Connect", theme.MediaPlayIcon(), func() {
		a.connect()
	})
	a.disconnectBtn = widget.NewButtonWithIcon("Disconnect", theme.MediaStopIcon(), func() {
		go a.ctrl.Disconnect()
	})
	a.disconnectBtn.Disable()
	a.resetBtn = widget.NewButtonWithIcon("Reset", theme.MediaReplayIcon(), func() {
		a.reset()
	})
	a.resetBtn.Disable()

	settingsBtn := widget.NewButtonWithIcon("", theme.SettingsIcon(), a.showSettingsDialog)

	buttons := container.NewHBox(
		layout.NewSpacer(),
		a.connectBtn,
		a.disconnectBtn,
		a.resetBtn,
		settingsBtn,
		layout.NewSpacer(),
	)

	// --- Status bar ---
	a.statusLabel = widget.NewLabel("Disconnected")
	a.statusLabel.TextStyle = fyne.TextStyle{Italic: true}

	versionLabel := widget.NewLabel(version.String())
	versionLabel.TextStyle = fyne.TextStyle{Italic: true}
	versionLabel.Importance = widget.LowImportance

	statusBar := container.NewHBox(a.statusLabel, layout.NewSpacer(), versionLabel)

	center := container.NewVBox(
		layout.NewSpacer(),
		container.NewCenter(orbHolder),
		a.orbLabel,
		a.vuMeter,
		layout.NewSpacer(),
		buttons,
	)

	a.window.SetContent(container.NewBorder(nil, statusBar, nil, nil, center))
}

func (a *App) bindEvents() {
	a.ctrl.OnStatusChange = func(status session.Status) {
		fyne.Do(func() {
			a.applyStatus(status)
		})
	}

	// Called per captured frame on the capture goroutine. Level is already
	// smoothed; only throttle the canvas refresh.
	var lastLevel time.Time
	a.ctrl.OnLevel = func(level float64) {
		now := time.Now()
		if now.Sub(lastLevel) < 50*time.Millisecond && level != 0 {
			return
		}
		lastLevel = now
		fyne.Do(func() {
			a.vuMeter.SetValue(min(level, 1))
		})
	}
}

func (a *App) applyStatus(status session.Status) {
	switch status {
	case session.StatusDisconnected:
		if a.ctrl.IsError() {
			a.orb.FillColor = colorError
			a.orbLabel.SetText("Something went wrong")
			a.statusLabel.SetText("Error")
		} else {
			a.orb.FillColor = colorIdle
			a.orbLabel.SetText("Tap to speak")
			a.statusLabel.SetText("Disconnected")
		}
		a.connectBtn.Enable()
		a.disconnectBtn.Disable()
		a.resetBtn.Disable()
	case session.StatusConnecting:
		a.orb.FillColor = colorConnecting
		a.orbLabel.SetText("Connecting...")
		a.statusLabel.SetText("Connecting")
		a.connectBtn.Disable()
	case session.StatusConnected:
		a.orb.FillColor = colorListening
		a.orbLabel.SetText("Listening")
		a.statusLabel.SetText("Connected")
		a.connectBtn.Disable()
		a.disconnectBtn.Enable()
		a.resetBtn.Enable()
	case session.StatusBuffering:
		a.orb.FillColor = colorBuffering
		a.orbLabel.SetText("Thinking...")
		a.statusLabel.SetText("Buffering")
	case session.StatusSpeaking:
		a.orb.FillColor = colorSpeaking
		a.orbLabel.SetText("Speaking")
		a.statusLabel.SetText("Speaking")
	case session.StatusError:
		a.orb.FillColor = colorError
		a.orbLabel.SetText("Something went wrong")
		a.statusLabel.SetText("Error")
	}
	a.orb.Refresh()
}

func (a *App) connect() {
	a.ctrl.SetConfig(session.Config{
		APIKey:       config.APIKey(),
		Model:        a.settings.Model,
		Voice:        a.settings.Voice,
		Instructions: a.settings.Instructions,
		InputDevice:  a.settings.AudioInput,
		OutputDevice: a.settings.AudioOutput,
	})
	go func() {
		if err := a.ctrl.Connect(context.Background()); err != nil {
			slog.Error("connect failed", "err", err)
			fyne.Do(func() {
				dialog.ShowError(fmt.Errorf("connection failed: %v", err), a.window)
			})
		}
	}()
}

func (a *App) reset() {
	go func() {
		if err := a.ctrl.Reset(context.Background()); err != nil {
			slog.Error("reset failed", "err", err)
			fyne.Do(func() {
				dialog.ShowError(fmt.Errorf("reset failed: %v", err), a.window)
			})
		}
	}()
}

func (a *App) showSettingsDialog() {
	// Audio input devices
	inputDevices, _ := audio.ListInputDevices()
	inputNames := make([]string, 0, len(inputDevices)+1)
	inputNames = append(inputNames, "(Default)")
	for _, d := range inputDevices {
		inputNames = append(inputNames, d.Name)
	}
	inputSelect := widget.NewSelect(inputNames, nil)
	if a.settings.AudioInput != "" {
		inputSelect.SetSelected(a.settings.AudioInput)
	} else {
		inputSelect.SetSelected("(Default)")
	}

	// Audio output devices
	outputDevices, _ := audio.ListOutputDevices()
	outputNames := make([]string, 0, len(outputDevices)+1)
	outputNames = append(outputNames, "(Default)")
	for _, d := range outputDevices {
		outputNames = append(outputNames, d.Name)
	}
	outputSelect := widget.NewSelect(outputNames, nil)
	if a.settings.AudioOutput != "" {
		outputSelect.SetSelected(a.settings.AudioOutput)
	} else {
		outputSelect.SetSelected("(Default)")
	}

	voiceEntry := widget.NewEntry()
	voiceEntry.SetText(a.settings.Voice)

	content := container.NewVBox(
		widget.NewLabelWithStyle("Audio", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		widget.NewSeparator(),
		widget.NewLabel("Input Device:"),
		inputSelect,
		widget.NewLabel("Output Device:"),
		outputSelect,
		widget.NewSeparator(),
		widget.NewLabelWithStyle("Coach", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		widget.NewSeparator(),
		widget.NewLabel("Voice:"),
		voiceEntry,
	)

	d := dialog.NewCustomConfirm("Settings", "Apply", "Cancel", content,
		func(ok bool) {
			if !ok {
				return
			}
			if inputSelect.Selected != "(Default)" {
				a.settings.AudioInput = inputSelect.Selected
			} else {
				a.settings.AudioInput = ""
			}
			if outputSelect.Selected != "(Default)" {
				a.settings.AudioOutput = outputSelect.Selected
			} else {
				a.settings.AudioOutput = ""
			}
			if voiceEntry.Text != "" {
				a.settings.Voice = voiceEntry.Text
			}

			if err := a.settings.Save(); err != nil {
				slog.Error("save settings", "err", err)
			}

			dialog.ShowInformation("Settings", "Settings saved. Changes apply on next connection.", a.window)
		}, a.window)
	d.Resize(fyne.NewSize(360, 420))
	d.Show()
}
