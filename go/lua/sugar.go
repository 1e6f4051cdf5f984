package lua

var sugarRc = `
getmetatable("").__mod = function(a, b)
    if type(b) == 'table' then
        return string.format(a, unpack(b))
    end
    return string.format(a, b)
end

function hex(s) return '0x%x' % s end
function ord(s) return string.byte(s, 1) end
function chr(s) return string.char(s) end

function range(a, b, c)
    local i, stop, step = 0, a, 1
    if b ~= nil then
        if c ~= nil then step = c end
        i, stop = a, b
    end
    i = i - step
    return function()
        i = i + step
        if (step > 0 and i < stop) or (step < 0 and i > stop) then
            return i
        end
    end
end

-- intercept results, in the order handlers return them
function bypass(v) return true, v end
function passthrough() return false, nil end
function explode(v) return {true, true}, v end
`
