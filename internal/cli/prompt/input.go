package prompt

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/manifoldco/promptui"

	"github.com/marmos91/ckptfs/internal/bytesize"
)

// ErrAborted is returned when the user aborts a prompt (Ctrl+C).
var ErrAborted = errors.New("aborted")

// IsAborted returns true if the error indicates the user aborted (Ctrl+C).
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) || errors.Is(err, ErrAborted)
}

// wrapError converts promptui interrupt/abort errors to ErrAborted.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsAborted(err) {
		return ErrAborted
	}
	return err
}

// Input prompts for text input.
func Input(label string, defaultValue string) (string, error) {
	prompt := promptui.Prompt{
		Label:   label,
		Default: defaultValue,
	}

	result, err := prompt.Run()
	return result, wrapError(err)
}

// InputRequired prompts for text input that cannot be empty.
func InputRequired(label string, defaultValue string) (string, error) {
	prompt := promptui.Prompt{
		Label:    label,
		Default:  defaultValue,
		Validate: ValidateRequired,
	}

	result, err := prompt.Run()
	return result, wrapError(err)
}

// InputInt prompts for a positive integer.
func InputInt(label string, defaultValue int) (int, error) {
	prompt := promptui.Prompt{
		Label:    label,
		Default:  strconv.Itoa(defaultValue),
		Validate: ValidatePositiveInt,
	}

	result, err := prompt.Run()
	if err != nil {
		return 0, wrapError(err)
	}

	value, _ := strconv.Atoi(result) // Already validated
	return value, nil
}

// InputByteSize prompts for a size such as "4MiB" or "512KB".
func InputByteSize(label string, defaultValue bytesize.ByteSize) (bytesize.ByteSize, error) {
	prompt := promptui.Prompt{
		Label:    label,
		Default:  defaultValue.String(),
		Validate: ValidateByteSize,
	}

	result, err := prompt.Run()
	if err != nil {
		return 0, wrapError(err)
	}

	value, _ := bytesize.ParseByteSize(result) // Already validated
	return value, nil
}

// InputPort prompts for a network port (1-65535).
func InputPort(label string, defaultValue int) (int, error) {
	prompt := promptui.Prompt{
		Label:    label,
		Default:  strconv.Itoa(defaultValue),
		Validate: ValidatePort,
	}

	result, err := prompt.Run()
	if err != nil {
		return 0, wrapError(err)
	}

	value, _ := strconv.Atoi(result) // Already validated
	return value, nil
}

// ValidateRequired rejects empty input.
func ValidateRequired(input string) error {
	if input == "" {
		return errors.New("value is required")
	}
	return nil
}

// ValidatePositiveInt accepts integers greater than zero.
func ValidatePositiveInt(input string) error {
	n, err := strconv.Atoi(input)
	if err != nil {
		return fmt.Errorf("must be a valid integer")
	}
	if n <= 0 {
		return fmt.Errorf("must be greater than zero")
	}
	return nil
}

// ValidateByteSize accepts sizes understood by the configuration loader.
func ValidateByteSize(input string) error {
	n, err := bytesize.ParseByteSize(input)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("must be greater than zero")
	}
	return nil
}

// ValidatePort accepts TCP ports.
func ValidatePort(input string) error {
	port, err := strconv.Atoi(input)
	if err != nil {
		return fmt.Errorf("must be a valid integer")
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("must be a valid port (1-65535)")
	}
	return nil
}
