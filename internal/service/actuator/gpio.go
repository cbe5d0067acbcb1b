package actuator

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOOutput drives one GPIO line through the character device interface.
type GPIOOutput struct {
	line *gpiocdev.Line
}

// OpenGPIO requests the pin as an output, initially LOW.
func OpenGPIO(chip string, pin int) (*GPIOOutput, error) {
	line, err := gpiocdev.RequestLine(chip, pin, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("request line %s:%d: %w", chip, pin, err)
	}

	return &GPIOOutput{line: line}, nil
}

// Set implements Output.
func (o *GPIOOutput) Set(active bool) error {
	value := 0
	if active {
		value = 1
	}

	if err := o.line.SetValue(value); err != nil {
		return fmt.Errorf("set line value: %w", err)
	}

	return nil
}

// Close implements Output. The line is driven LOW before release.
func (o *GPIOOutput) Close() error {
	if err := o.line.SetValue(0); err != nil {
		return fmt.Errorf("reset line value: %w", err)
	}

	return o.line.Close()
}
