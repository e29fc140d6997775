/*
Package iso7816 implements the ISO/IEC 7816-4 APDU layer used to talk to a
passport chip: command and response structures, status word analysis, and the
commands of the eMRTD access and read sequence.

# Fundamentals

The communication with a smart card is strictly synchronous:
 1. The Host sends a Command APDU (Header + Optional Body).
 2. The Card processes it and returns a Response APDU (Optional Body + Trailer SW1/SW2).

# Status Words

Every response ends with a 2-byte Status Word (SW).
  - 0x9000: Success (OK).
  - 0x6282: End of file reached before Le bytes; the data is still returned.
  - 0x61XX: Success, but response data is still available (XX bytes).
  - 0x6CXX: Error, wrong length expectation (XX is the correct length).
  - 0x6982: Security status not satisfied (access control required).
  - 0x6988: Incorrect secure messaging data objects.

The Client handles 61XX and 6CXX on its own and records every exchange in a
Trace. Trace.Check turns a failing final status into a *StatusError.

# Commands

  - SELECT: SelectApplication (by AID) and SelectEF (by FID), both without FCI.
  - READ BINARY: ReadBinary (current EF, 15-bit offset) and ReadBinarySFI.
  - BAC: GetChallenge and ExternalAuthenticate.
  - PACE: MSESetAT and GeneralAuthenticate (with command chaining).

# Usage Example: Reading a transparent file

	client := iso7816.NewClient(card)
	cls, _ := iso7816.NewClass(0x00)

	trace, err := client.Send(iso7816.SelectEF(cls, 0x011E))
	if err != nil {
	    return err
	}
	if err := trace.Check(); err != nil {
	    return err
	}

	cmd, _ := iso7816.ReadBinary(cls, 0, 8)
	trace, err = client.Send(cmd)
	if err != nil {
	    return err
	}
	res, _ := iso7816.NewReadBinaryResult(trace)
	header, err := res.Data()
*/
package iso7816
