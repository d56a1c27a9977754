//go:build windows

package service

type unsupportedController struct{}

func newController(Runner) Controller {
	return unsupportedController{}
}

func (unsupportedController) Installed() bool          { return false }
func (unsupportedController) Loaded() bool             { return false }
func (unsupportedController) Enable() error            { return ErrUnsupported }
func (unsupportedController) Disable() error           { return ErrUnsupported }
func (unsupportedController) Restart() error           { return ErrUnsupported }
func (unsupportedController) Install(string) error     { return ErrUnsupported }
func (unsupportedController) Uninstall() error         { return ErrUnsupported }
func (unsupportedController) UnitPath() string         { return "" }
func (unsupportedController) SystemConfigPath() string { return "" }
