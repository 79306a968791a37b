package auth

// ConstantTimeEqual reports whether a and b are equal. For inputs of equal
// length it inspects every byte pair no matter where the first difference is.
func ConstantTimeEqual(a, b []byte) bool {
	return compare(a, b, nil)
}

// compare is ConstantTimeEqual with a hook invoked for every byte index it
// examines.
func compare(a, b []byte, visit func(i int)) bool {
	if len(a) != len(b) {
		return false
	}

	var acc byte
	for i := range a {
		if visit != nil {
			visit(i)
		}
		acc |= a[i] ^ b[i]
	}
	return acc == 0
}
