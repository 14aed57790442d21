package ui

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// Step shows a globe spinner on one terminal line while fn runs, then
// replaces it with the outcome. It returns fn's error.
func Step(message, success string, fn func() error) error {
	return step(os.Stdout, spinner.Globe, message, success, fn)
}

func step(w io.Writer, sp spinner.Spinner, message, success string, fn func() error) error {
	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(sp.FPS)
		defer ticker.Stop()
		for i := 0; ; i++ {
			fmt.Fprintf(w, "\r%s %s", SpinnerStyle.Render(sp.Frames[i%len(sp.Frames)]), message)
			select {
			case <-stop:
				fmt.Fprint(w, "\r\033[K")
				return
			case <-ticker.C:
			}
		}
	}()

	err := fn()
	close(stop)
	<-stopped

	if err != nil {
		fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render(IconError), message)
		return err
	}
	fmt.Fprintf(w, "%s %s\n", SuccessStyle.Render(IconSuccess), success)
	return nil
}
