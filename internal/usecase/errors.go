package usecase

type ErrNotFound string

func (e ErrNotFound) Error() string { return string(e) }

type ErrConflict string

func (e ErrConflict) Error() string { return string(e) }

type ErrBadRequest string

func (e ErrBadRequest) Error() string { return string(e) }
